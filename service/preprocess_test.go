package service

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWithinBounds(t *testing.T) {
	raw := encodePNG(t, solidImage(100, 50, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))

	img, err := NewPreprocessor(512, 512, 0).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Width)
	assert.Equal(t, 50, img.Height)
	assert.Equal(t, 100, img.SourceWidth)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, img.Image.NRGBAAt(3, 3))
}

func TestNormalizeDownsamples(t *testing.T) {
	raw := encodePNG(t, solidImage(400, 200, color.White))

	img, err := NewPreprocessor(64, 64, 0).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Width)
	assert.Equal(t, 32, img.Height)
	assert.Equal(t, 400, img.SourceWidth)
	assert.Equal(t, 200, img.SourceHeight)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Image.Bounds())
}

func TestNormalizeDropsAlpha(t *testing.T) {
	src := solidImage(8, 8, color.NRGBA{R: 255, A: 0})
	src.SetNRGBA(1, 1, color.NRGBA{G: 255, A: 128})

	img, err := NewPreprocessor(512, 512, 0).Normalize(encodePNG(t, src))
	require.NoError(t, err)
	for i := 3; i < len(img.Image.Pix); i += 4 {
		require.Equal(t, uint8(0xff), img.Image.Pix[i])
	}
	assert.Equal(t, uint8(255), img.Image.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), img.Image.NRGBAAt(1, 1).G)
}

func TestNormalizeGrayscaleJPEG(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range gray.Pix {
		gray.Pix[i] = 128
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gray, nil))

	img, err := NewPreprocessor(512, 512, 0).Normalize(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", img.Format)
	px := img.Image.NRGBAAt(8, 8)
	assert.Equal(t, px.R, px.G)
	assert.Equal(t, px.G, px.B)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	p := NewPreprocessor(512, 512, 0)
	for _, raw := range [][]byte{nil, []byte("definitely not an image"), {0x89, 'P', 'N', 'G', 0, 0}} {
		_, err := p.Normalize(raw)
		var pe *PreprocessError
		require.True(t, errors.As(err, &pe), "got %v", err)
		assert.Equal(t, KindPreprocess, KindOf(err))
	}
}

func TestNormalizeRejectsOversizedSource(t *testing.T) {
	raw := encodePNG(t, solidImage(100, 100, color.Black))

	_, err := NewPreprocessor(512, 512, 5000).Normalize(raw)
	var pe *PreprocessError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "too large")
}

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{4000, 4000, 512, 512, 512, 512},
		{4000, 2000, 512, 512, 512, 256},
		{2000, 4000, 512, 512, 256, 512},
		{300, 200, 512, 512, 300, 200},
		{512, 512, 512, 512, 512, 512},
		{1000, 1000, 640, 480, 480, 480},
		{100000, 10, 512, 512, 512, 1},
	}
	for _, tt := range tests {
		w, h := FitDimensions(tt.w, tt.h, tt.maxW, tt.maxH)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
		assert.LessOrEqual(t, w, tt.maxW)
		assert.LessOrEqual(t, h, tt.maxH)
	}
}
