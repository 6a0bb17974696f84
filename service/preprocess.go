package service

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/webp"
)

type Preprocessor struct {
	MaxWidth  int
	MaxHeight int
	// MaxSourcePixels rejects images whose header declares more pixels
	// than this before decoding them. Zero disables the check.
	MaxSourcePixels int
}

func NewPreprocessor(maxWidth, maxHeight, maxSourcePixels int) *Preprocessor {
	return &Preprocessor{MaxWidth: maxWidth, MaxHeight: maxHeight, MaxSourcePixels: maxSourcePixels}
}

// Normalize decodes raw, converts it to opaque RGB and downsamples it so it
// fits within MaxWidth x MaxHeight. Images already within bounds keep their
// size.
func (p *Preprocessor) Normalize(raw []byte) (*NormalizedImage, error) {
	if len(raw) == 0 {
		return nil, &PreprocessError{Reason: "empty image data"}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &PreprocessError{Reason: "unrecognized image format", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &PreprocessError{Reason: fmt.Sprintf("degenerate dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if p.MaxSourcePixels > 0 && cfg.Width*cfg.Height > p.MaxSourcePixels {
		return nil, &PreprocessError{Reason: fmt.Sprintf("image too large: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, p.MaxSourcePixels)}
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &PreprocessError{Reason: "failed to decode " + format + " image", Err: err}
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &PreprocessError{Reason: fmt.Sprintf("degenerate dimensions %dx%d", b.Dx(), b.Dy())}
	}

	rgb := toRGB(src)
	w, h := FitDimensions(b.Dx(), b.Dy(), p.MaxWidth, p.MaxHeight)
	if w != b.Dx() || h != b.Dy() {
		rgb = imaging.Resize(rgb, w, h, imaging.Lanczos)
	}

	return &NormalizedImage{
		Image:        rgb,
		Width:        rgb.Bounds().Dx(),
		Height:       rgb.Bounds().Dy(),
		SourceWidth:  b.Dx(),
		SourceHeight: b.Dy(),
		Format:       format,
	}, nil
}

// FitDimensions scales w x h down to fit within maxW x maxH, keeping the
// aspect ratio. It never scales up and never returns a zero side.
func FitDimensions(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(1, min(maxW, int(math.Round(float64(w)*scale))))
	nh := max(1, min(maxH, int(math.Round(float64(h)*scale))))
	return nw, nh
}

// toRGB converts any color model to NRGBA and drops the alpha channel.
func toRGB(src image.Image) *image.NRGBA {
	dst := imaging.Clone(src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
