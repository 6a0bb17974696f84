package service

import (
	"context"
	"image"
	"time"
)

const (
	// MaxTagLength bounds the text of a single tag in runes.
	MaxTagLength = 200
	// FallbackTagText is used when captioning yields nothing usable.
	FallbackTagText = "image content"
)

type Tag struct {
	Text       string  `json:"tag"`
	Confidence float64 `json:"confidence"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type AnalysisResult struct {
	Tags           []Tag         `json:"tags"`
	ProcessingTime time.Duration `json:"processing_time"`
	Dimensions     Dimensions    `json:"image_size"`
	Device         string        `json:"device"`
	ModelID        string        `json:"model_id"`
}

// NormalizedImage is an RGB image that fits within the configured bounds.
// Alpha is always opaque.
type NormalizedImage struct {
	Image        *image.NRGBA
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	Format       string
}

// Budget limits a single generation call.
type Budget struct {
	MaxSequences int
	MaxLength    int
}

// Captioner produces raw captions for a normalized image.
type Captioner interface {
	Generate(ctx context.Context, img *NormalizedImage, budget Budget) ([]string, error)
	Close() error
}

// ModelHandle is a loaded model ready for inference.
type ModelHandle struct {
	Captioner    Captioner
	ModelID      string
	Device       string
	LoadedAt     time.Time
	LoadDuration time.Duration
}
