package classifier

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"go-omr-marker/internal/imaging"
	"go-omr-marker/internal/strategy"
	"go-omr-marker/pkg/models"

	"gocv.io/x/gocv"
)

// createSheet returns a white page with the given rectangles filled to the
// requested gray levels.
func createSheet(width, height int, fills map[models.Rectangle]uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for r, v := range fills {
		for y := r.Y1; y < r.Y2; y++ {
			for x := r.X1; x < r.X2; x++ {
				img.SetGray(x, y, color.Gray{Y: v})
			}
		}
	}
	return img
}

// sheetMat converts a page to the Mat the classifier samples.
func sheetMat(t *testing.T, img image.Image) gocv.Mat {
	t.Helper()
	m, err := imaging.GrayMat(img)
	if err != nil {
		t.Fatalf("failed to convert page: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

var (
	optA = models.Rect(10, 10, 20, 20)
	optB = models.Rect(30, 10, 40, 20)
	optC = models.Rect(50, 10, 60, 20)
)

func TestMeanIntensity(t *testing.T) {
	img := sheetMat(t, createSheet(80, 40, map[models.Rectangle]uint8{optA: 50}))

	mean, err := MeanIntensity(img, optA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mean != 50 {
		t.Errorf("Expected mean 50, got %f", mean)
	}

	// Half of this rectangle lies outside the page and is clipped away.
	mean, err = MeanIntensity(img, models.Rect(70, 0, 100, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mean != 255 {
		t.Errorf("Expected clipped mean 255, got %f", mean)
	}
}

func TestMeanIntensity_SubImageOrigin(t *testing.T) {
	img := createSheet(80, 40, map[models.Rectangle]uint8{models.Rect(40, 20, 50, 30): 0})
	sub := img.SubImage(image.Rect(40, 20, 80, 40)).(*image.Gray)

	mean, err := MeanIntensity(sheetMat(t, sub), models.Rect(0, 0, 10, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mean != 0 {
		t.Errorf("Expected rectangle relative to the sub-image origin, got mean %f", mean)
	}
}

func TestMeanIntensity_PartialFill(t *testing.T) {
	img := createSheet(40, 20, nil)
	for x := 10; x < 15; x++ {
		for y := 0; y < 10; y++ {
			img.SetGray(x, y, color.Gray{Y: 55})
		}
	}

	mean, err := MeanIntensity(sheetMat(t, img), models.Rect(10, 0, 20, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(mean-155) > 1e-9 {
		t.Errorf("Expected mean 155 over a half filled region, got %f", mean)
	}

	if _, err := MeanIntensity(sheetMat(t, img), models.Rect(50, 0, 60, 10)); err != nil {
		t.Errorf("Expected region clamped to the last column to be sampled, got %v", err)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name    string
		in      models.Rectangle
		want    models.Rectangle
		wantErr bool
	}{
		{"inside", models.Rect(1, 2, 3, 4), models.Rect(1, 2, 3, 4), false},
		{"negative origin", models.Rect(-5, -5, 3, 3), models.Rect(0, 0, 3, 3), false},
		{"overflow", models.Rect(5, 5, 50, 50), models.Rect(5, 5, 10, 10), false},
		{"entirely right of image", models.Rect(20, 0, 30, 5), models.Rect(9, 0, 10, 5), false},
		{"entirely left of image", models.Rect(-20, 0, -10, 5), models.Rect(0, 0, 0, 5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Clamp(tt.in, 10, 10)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClassifier_Classify(t *testing.T) {
	tests := []struct {
		name       string
		fills      map[models.Rectangle]uint8
		options    []models.Rectangle
		policy     strategy.Policy
		wantLetter models.Letter
	}{
		{
			name:       "filled bubble wins",
			fills:      map[models.Rectangle]uint8{optA: 50, optB: 10},
			options:    []models.Rectangle{optA, optB},
			wantLetter: models.LetterB,
		},
		{
			name:       "ambiguous marks are blank",
			fills:      map[models.Rectangle]uint8{optA: 20, optB: 15},
			options:    []models.Rectangle{optA, optB},
			wantLetter: models.NoAnswer,
		},
		{
			name:       "naive picks darkest regardless of margin",
			fills:      map[models.Rectangle]uint8{optA: 20, optB: 15},
			options:    []models.Rectangle{optA, optB},
			policy:     strategy.NaiveDarkest,
			wantLetter: models.LetterB,
		},
		{
			name:       "single calibrated option is selected",
			fills:      map[models.Rectangle]uint8{},
			options:    []models.Rectangle{{}, {}, optC},
			wantLetter: models.LetterC,
		},
		{
			name:       "uncalibrated question is blank",
			options:    make([]models.Rectangle, 5),
			wantLetter: models.NoAnswer,
		},
		{
			name:       "letter follows option order not geometry",
			fills:      map[models.Rectangle]uint8{optA: 30},
			options:    []models.Rectangle{optC, optB, optA},
			wantLetter: models.LetterC,
		},
		{
			name:       "identical options are blank",
			fills:      map[models.Rectangle]uint8{optA: 100, optB: 100},
			options:    []models.Rectangle{optA, optB},
			wantLetter: models.NoAnswer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewWithPolicy(tt.policy, strategy.DefaultMinFillDelta)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			img := sheetMat(t, createSheet(80, 40, tt.fills))

			got, err := c.Classify(img, tt.options)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Letter != tt.wantLetter {
				t.Errorf("Expected %q, got %q (means %v)", tt.wantLetter, got.Letter, got.Means)
			}
		})
	}
}

func TestClassifier_InvalidRegion(t *testing.T) {
	img := sheetMat(t, createSheet(80, 40, nil))
	c := New(nil)

	_, err := c.Classify(img, []models.Rectangle{optA, models.Rect(-30, 5, -10, 15)})
	if !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("Expected ErrInvalidRegion, got %v", err)
	}
	var regionErr *RegionError
	if !errors.As(err, &regionErr) {
		t.Fatalf("Expected *RegionError, got %T", err)
	}
	if regionErr.Index != 1 {
		t.Errorf("Expected option index 1, got %d", regionErr.Index)
	}
}

func TestClassifier_DecisionMargin(t *testing.T) {
	img := sheetMat(t, createSheet(80, 40, map[models.Rectangle]uint8{optA: 200, optB: 40, optC: 120}))
	got, err := New(nil).Classify(img, []models.Rectangle{optA, optB, optC})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got.Margin-80) > 1e-9 {
		t.Errorf("Expected margin 80, got %f", got.Margin)
	}
	if got.Index != 1 || !got.Answered() {
		t.Errorf("Expected option B, got index %d", got.Index)
	}
	if len(got.Means) != 3 {
		t.Errorf("Expected 3 sampled means, got %d", len(got.Means))
	}
}

func TestClassifier_Policy(t *testing.T) {
	if New(nil).Policy() != "strict_margin" {
		t.Error("Expected strict_margin by default")
	}
	if _, err := NewWithPolicy("bogus", 12); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
