package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// ToGray converts any image to an 8-bit grayscale image anchored at (0, 0).
func ToGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}

// ToRGBA copies any image into an RGBA image anchored at (0, 0).
func ToRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// FitScale returns the factor (at most 1) that brings the longer side of a
// width x height image down to maxDim. maxDim <= 0 disables scaling.
func FitScale(width, height, maxDim int) float64 {
	longest := width
	if height > longest {
		longest = height
	}
	if maxDim <= 0 || longest <= maxDim {
		return 1
	}
	return float64(maxDim) / float64(longest)
}
