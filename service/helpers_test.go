package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCaptioner struct {
	captions []string
	err      error
	block    chan struct{}

	calls  atomic.Int32
	closed atomic.Int32

	mu       sync.Mutex
	lastSize [2]int
	budget   Budget
}

func (f *fakeCaptioner) Generate(ctx context.Context, img *NormalizedImage, budget Budget) ([]string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastSize = [2]int{img.Width, img.Height}
	f.budget = budget
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.captions, nil
}

func (f *fakeCaptioner) Close() error {
	f.closed.Add(1)
	return nil
}

func staticLoader(c Captioner) (LoaderFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) (*ModelHandle, error) {
		calls.Add(1)
		return &ModelHandle{Captioner: c, Device: "cpu"}, nil
	}, &calls
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
