package imaging

import (
	"image"
	"image/color"
	"math"
	"testing"
)

// createTestImage creates a uniform grayscale image
func createTestImage(width, height int, value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

// createCheckerboard creates a checkerboard pattern with the given cell size
func createCheckerboard(width, height, cell int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// createRGBA creates a uniform colour image
func createRGBA(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestToGray_NormalisesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 15, 10))
	src.Set(5, 5, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	gray := ToGray(src)
	if gray.Bounds() != image.Rect(0, 0, 10, 5) {
		t.Fatalf("Expected origin bounds, got %v", gray.Bounds())
	}
	if gray.GrayAt(0, 0).Y != 255 {
		t.Errorf("Expected white corner, got %d", gray.GrayAt(0, 0).Y)
	}
}

func TestFitScale(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxDim        int
		want          float64
	}{
		{"disabled", 4000, 3000, 0, 1},
		{"already small", 800, 600, 1000, 1},
		{"landscape", 2000, 1000, 1000, 0.5},
		{"portrait", 1000, 4000, 1000, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FitScale(tt.width, tt.height, tt.maxDim); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestGrayMat(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
		want uint8
	}{
		{"gray", createTestImage(12, 8, 90), 90},
		{"gray sub-image", createCheckerboard(24, 16, 12).SubImage(image.Rect(12, 0, 24, 8)), 0},
		{"rgba", createRGBA(12, 8, color.RGBA{R: 200, G: 200, B: 200, A: 255}), 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := GrayMat(tt.img)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer m.Close()

			if m.Cols() != 12 || m.Rows() != 8 {
				t.Fatalf("Expected 12x8, got %dx%d", m.Cols(), m.Rows())
			}
			gray, err := MatToGray(m)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v := gray.GrayAt(3, 3).Y; v != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, v)
			}
		})
	}
}

func TestGrayMat_Empty(t *testing.T) {
	m, err := GrayMat(image.NewGray(image.Rect(0, 0, 0, 0)))
	defer m.Close()
	if err != ErrEmptyImage {
		t.Errorf("Expected ErrEmptyImage, got %v", err)
	}
}

func TestRGBAMat_RoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(4, 4, 14, 10))
	src.Set(4, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	m, err := RGBAMat(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Close()

	out, err := MatToRGBA(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 10, 6) {
		t.Fatalf("Expected origin bounds, got %v", out.Bounds())
	}
	if c := out.RGBAAt(0, 0); c != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("Expected channel order to survive, got %v", c)
	}
	if _, err := MatToGray(m); err == nil {
		t.Error("Expected error converting a four channel mat to gray")
	}
}

func TestBlur(t *testing.T) {
	uniform, _ := GrayMat(createTestImage(20, 10, 77))
	defer uniform.Close()

	blurred := Blur(uniform, 5)
	defer blurred.Close()
	gray, _ := MatToGray(blurred)
	for i, v := range gray.Pix {
		if v != 77 {
			t.Fatalf("pixel %d changed to %d", i, v)
		}
	}

	board, _ := GrayMat(createCheckerboard(16, 16, 1))
	defer board.Close()
	smoothed := Blur(board, 3)
	defer smoothed.Close()
	if v := smoothed.GetUCharAt(8, 8); v == 0 || v == 255 {
		t.Errorf("Expected blur to mix neighbouring cells, got %d", v)
	}

	copied := Blur(board, 1)
	defer copied.Close()
	if copied.GetUCharAt(0, 0) != board.GetUCharAt(0, 0) || copied.GetUCharAt(0, 1) != board.GetUCharAt(0, 1) {
		t.Error("Expected a small kernel to copy the page")
	}
}

func TestScale(t *testing.T) {
	src, _ := GrayMat(createTestImage(200, 100, 90))
	defer src.Close()

	dst := Scale(src, 0.5)
	defer dst.Close()
	if dst.Cols() != 100 || dst.Rows() != 50 {
		t.Fatalf("Expected 100x50, got %dx%d", dst.Cols(), dst.Rows())
	}
	if v := dst.GetUCharAt(25, 50); v != 90 {
		t.Errorf("Expected uniform value 90, got %d", v)
	}

	same := Scale(src, 1)
	defer same.Close()
	if same.Cols() != 200 || same.Rows() != 100 {
		t.Errorf("Expected identity scale to keep the size, got %dx%d", same.Cols(), same.Rows())
	}
}

func TestMetricsCalculator_Uniform(t *testing.T) {
	calc := NewMetricsCalculator()
	img := createTestImage(64, 64, 200)

	m := calc.Measure(img)
	if m.Width != 64 || m.Height != 64 {
		t.Errorf("Expected 64x64, got %dx%d", m.Width, m.Height)
	}
	if math.Abs(m.Brightness-200) > 1e-9 {
		t.Errorf("Expected brightness 200, got %f", m.Brightness)
	}
	if m.Contrast != 0 {
		t.Errorf("Expected zero contrast, got %f", m.Contrast)
	}
	if m.LaplacianVar != 0 {
		t.Errorf("Expected zero Laplacian variance, got %f", m.LaplacianVar)
	}
	if m.SkewAngle != nil {
		t.Errorf("Expected no skew estimate on a blank page, got %f", *m.SkewAngle)
	}
}

func TestMetricsCalculator_Checkerboard(t *testing.T) {
	calc := NewMetricsCalculator()
	img := createCheckerboard(64, 64, 4)

	if v := calc.CalculateLaplacianVariance(img); v <= 0 {
		t.Errorf("Expected positive Laplacian variance, got %f", v)
	}
	if c := calc.CalculateContrast(img); c < 100 {
		t.Errorf("Expected high contrast, got %f", c)
	}
	if b := calc.CalculateBrightness(img); math.Abs(b-127.5) > 1e-9 {
		t.Errorf("Expected brightness 127.5, got %f", b)
	}
}

func TestMetricsCalculator_DetectSkew(t *testing.T) {
	calc := NewMetricsCalculator()
	img := createTestImage(200, 200, 255)
	// Dark band whose top edge rises 1 pixel every 10 columns.
	for x := 0; x < 200; x++ {
		top := 100 - x/10
		for y := top; y < 200; y++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}

	angle := calc.DetectSkew(img)
	if angle == nil {
		t.Fatal("Expected a skew estimate")
	}
	want := math.Atan(-0.1) * 180 / math.Pi
	if math.Abs(*angle-want) > 1.0 {
		t.Errorf("Expected angle near %f, got %f", want, *angle)
	}
}
