package marker

import (
	"image"

	"go-omr-marker/pkg/models"

	"gocv.io/x/gocv"
)

// SheetMarker detects the marked option of every question on a sheet
type SheetMarker interface {
	// Prepare converts a page to the single channel Mat that is sampled.
	// The caller closes it.
	Prepare(img image.Image) (gocv.Mat, error)

	// DetectAnswers classifies every question of set on a prepared page
	DetectAnswers(page gocv.Mat, set models.QuestionSet) (Detection, error)

	// Options returns the effective configuration
	Options() MarkerOptions
}
