package caption

import (
	"encoding/json"
	"fmt"
	"os"
)

// BLIP text decoder defaults.
const (
	DefaultBOSTokenID = 30522
	DefaultEOSTokenID = 102
	DefaultPadTokenID = 0
	DefaultImageSize  = 384
	BOSToken          = "[DEC]"
)

var (
	ClipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ImageConfig describes how pixels are fed to the vision encoder.
type ImageConfig struct {
	Width         int
	Height        int
	Mean          [3]float32
	Std           [3]float32
	RescaleFactor float32
}

func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		Width:         DefaultImageSize,
		Height:        DefaultImageSize,
		Mean:          ClipMean,
		Std:           ClipStd,
		RescaleFactor: 1.0 / 255,
	}
}

type TokenConfig struct {
	BOS int64
	EOS int64
	Pad int64
}

type rawModelConfig struct {
	TextConfig struct {
		BOSTokenID *int64 `json:"bos_token_id"`
		SepTokenID *int64 `json:"sep_token_id"`
		PadTokenID *int64 `json:"pad_token_id"`
	} `json:"text_config"`
	VisionConfig struct {
		ImageSize int `json:"image_size"`
	} `json:"vision_config"`
}

type rawPreprocessorConfig struct {
	ImageMean     []float32 `json:"image_mean"`
	ImageStd      []float32 `json:"image_std"`
	RescaleFactor float32   `json:"rescale_factor"`
	Size          any       `json:"size"`
}

// LoadTokenConfig reads the decoder token ids from config.json. An empty
// path yields the BLIP defaults. sep_token_id is the end marker used during
// generation.
func LoadTokenConfig(path string) (TokenConfig, int, error) {
	tc := TokenConfig{BOS: DefaultBOSTokenID, EOS: DefaultEOSTokenID, Pad: DefaultPadTokenID}
	if path == "" {
		return tc, 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tc, 0, fmt.Errorf("reading config.json: %w", err)
	}
	var raw rawModelConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return tc, 0, fmt.Errorf("parsing config.json: %w", err)
	}
	if v := raw.TextConfig.BOSTokenID; v != nil {
		tc.BOS = *v
	}
	if v := raw.TextConfig.SepTokenID; v != nil {
		tc.EOS = *v
	}
	if v := raw.TextConfig.PadTokenID; v != nil {
		tc.Pad = *v
	}
	return tc, raw.VisionConfig.ImageSize, nil
}

// LoadImageConfig reads preprocessor_config.json. Missing fields keep
// their defaults; fallbackSize applies when the file has no size.
func LoadImageConfig(path string, fallbackSize int) (ImageConfig, error) {
	ic := DefaultImageConfig()
	if fallbackSize > 0 {
		ic.Width, ic.Height = fallbackSize, fallbackSize
	}
	if path == "" {
		return ic, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ic, fmt.Errorf("reading preprocessor_config.json: %w", err)
	}
	var raw rawPreprocessorConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return ic, fmt.Errorf("parsing preprocessor_config.json: %w", err)
	}
	if len(raw.ImageMean) == 3 {
		copy(ic.Mean[:], raw.ImageMean)
	}
	if len(raw.ImageStd) == 3 {
		copy(ic.Std[:], raw.ImageStd)
	}
	if raw.RescaleFactor > 0 {
		ic.RescaleFactor = raw.RescaleFactor
	}
	if w, h := parseSize(raw.Size); w > 0 && h > 0 {
		ic.Width, ic.Height = w, h
	}
	return ic, nil
}

// parseSize accepts 384, {"height":384,"width":384} or {"shortest_edge":384}.
func parseSize(v any) (int, int) {
	switch s := v.(type) {
	case float64:
		return int(s), int(s)
	case map[string]any:
		h, _ := s["height"].(float64)
		w, _ := s["width"].(float64)
		if h > 0 && w > 0 {
			return int(w), int(h)
		}
		if e, ok := s["shortest_edge"].(float64); ok {
			return int(e), int(e)
		}
	}
	return 0, 0
}
