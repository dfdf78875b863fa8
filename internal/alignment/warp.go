package alignment

import (
	"fmt"
	"image"
	"image/color"

	"go-omr-marker/internal/imaging"

	"gocv.io/x/gocv"
)

// Warp resamples src so that dst(x, y) = src(t(x, y)), producing an image of
// the given size. Pixels that map outside src are left white.
func Warp(src image.Image, t AffineTransform, size image.Point) (*image.RGBA, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: invalid output size %v", ErrAlignmentFailed, size)
	}
	if _, ok := t.Inverse(); !ok || !t.IsFinite() {
		return nil, fmt.Errorf("%w: transform is not invertible", ErrAlignmentFailed)
	}

	in, err := imaging.RGBAMat(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlignmentFailed, err)
	}
	defer in.Close()

	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for i, v := range t.Values() {
		m.SetDoubleAt(i/3, i%3, v)
	}

	out := gocv.NewMat()
	defer out.Close()
	gocv.WarpAffineWithParams(in, &out, m, size,
		gocv.InterpolationLinear|gocv.WarpInverseMap, gocv.BorderConstant, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	return imaging.MatToRGBA(out)
}
