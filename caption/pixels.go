package caption

import (
	"image"

	"github.com/disintegration/imaging"
)

// PixelValues resizes img to the encoder input size and returns it as a
// normalized CHW float tensor.
func PixelValues(img *image.NRGBA, cfg ImageConfig) []float32 {
	w, h := cfg.Width, cfg.Height
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		img = imaging.Resize(img, w, h, imaging.CatmullRom)
	}

	plane := w * h
	out := make([]float32, 3*plane)
	rBase, gBase, bBase := 0, plane, 2*plane

	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := range w {
			px := row[x*4 : x*4+3]
			out[rBase] = (float32(px[0])*cfg.RescaleFactor - cfg.Mean[0]) / cfg.Std[0]
			out[gBase] = (float32(px[1])*cfg.RescaleFactor - cfg.Mean[1]) / cfg.Std[1]
			out[bBase] = (float32(px[2])*cfg.RescaleFactor - cfg.Mean[2]) / cfg.Std[2]
			rBase++
			gBase++
			bBase++
		}
	}
	return out
}
