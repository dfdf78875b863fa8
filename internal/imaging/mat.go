package imaging

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// ErrEmptyImage is returned when an image has no pixels to convert.
var ErrEmptyImage = errors.New("image is empty")

// GrayMat converts any image to a single channel 8-bit Mat. The caller owns
// the returned Mat and must Close it.
func GrayMat(img image.Image) (gocv.Mat, error) {
	if img.Bounds().Empty() {
		return gocv.NewMat(), ErrEmptyImage
	}
	if gray, ok := img.(*image.Gray); ok {
		if gray.Bounds().Min != (image.Point{}) || gray.Stride != gray.Bounds().Dx() {
			gray = ToGray(gray)
		}
		b := gray.Bounds()
		view, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, gray.Pix)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("failed to wrap gray image: %w", err)
		}
		defer view.Close()
		return view.Clone(), nil
	}

	rgba, err := RGBAMat(img)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer rgba.Close()
	gray := gocv.NewMat()
	gocv.CvtColor(rgba, &gray, gocv.ColorRGBAToGray)
	return gray, nil
}

// RGBAMat converts any image to a four channel 8-bit Mat in RGBA order.
func RGBAMat(img image.Image) (gocv.Mat, error) {
	if img.Bounds().Empty() {
		return gocv.NewMat(), ErrEmptyImage
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Bounds().Min != (image.Point{}) || rgba.Stride != 4*rgba.Bounds().Dx() {
		rgba = ToRGBA(img)
	}
	b := rgba.Bounds()
	view, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to wrap rgba image: %w", err)
	}
	defer view.Close()
	return view.Clone(), nil
}

// MatToGray copies a single channel 8-bit Mat into an image.Gray.
func MatToGray(m gocv.Mat) (*image.Gray, error) {
	if m.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("expected an 8-bit single channel mat, got type %v", m.Type())
	}
	gray := image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	copy(gray.Pix, m.ToBytes())
	return gray, nil
}

// MatToRGBA copies a four channel 8-bit Mat in RGBA order into an image.RGBA.
func MatToRGBA(m gocv.Mat) (*image.RGBA, error) {
	if m.Type() != gocv.MatTypeCV8UC4 {
		return nil, fmt.Errorf("expected an 8-bit four channel mat, got type %v", m.Type())
	}
	rgba := image.NewRGBA(image.Rect(0, 0, m.Cols(), m.Rows()))
	copy(rgba.Pix, m.ToBytes())
	return rgba, nil
}

// Blur smooths src with a size x size Gaussian kernel, sigma derived from
// the size. Sizes below 3 return a copy. Even sizes are rounded up.
func Blur(src gocv.Mat, size int) gocv.Mat {
	if size < 3 {
		return src.Clone()
	}
	if size%2 == 0 {
		size++
	}
	dst := gocv.NewMat()
	gocv.GaussianBlur(src, &dst, image.Pt(size, size), 0, 0, gocv.BorderDefault)
	return dst
}

// Scale resamples src by factor with area interpolation. A factor of 1
// returns a copy.
func Scale(src gocv.Mat, factor float64) gocv.Mat {
	if factor == 1 {
		return src.Clone()
	}
	w := int(math.Max(1, math.Round(float64(src.Cols())*factor)))
	h := int(math.Max(1, math.Round(float64(src.Rows())*factor)))
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
	return dst
}
