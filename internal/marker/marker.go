// Package marker reads every question of a question set from a scanned page.
package marker

import (
	"errors"
	"fmt"
	"image"
	"time"

	"go-omr-marker/internal/classifier"
	"go-omr-marker/internal/imaging"
	"go-omr-marker/pkg/models"

	"gocv.io/x/gocv"
)

// Detection is the outcome of reading one question set.
type Detection struct {
	Set       string                         `json:"set"`
	Policy    string                         `json:"policy"`
	Answers   models.DetectionResult         `json:"answers"`
	Decisions map[string]classifier.Decision `json:"decisions"`
	Errors    []models.QuestionError         `json:"errors,omitempty"`

	ProcessingTimeSec float64 `json:"processing_time_sec"`
}

// coreMarker implements SheetMarker with a single classifier
type coreMarker struct {
	options    MarkerOptions
	classifier *classifier.Classifier
}

// NewSheetMarker creates a marker for the given options
func NewSheetMarker(options MarkerOptions) (SheetMarker, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid marker options: %w", err)
	}
	c, err := classifier.NewWithPolicy(options.Policy, options.MinFillDelta)
	if err != nil {
		return nil, err
	}
	return &coreMarker{options: options, classifier: c}, nil
}

func (m *coreMarker) Options() MarkerOptions {
	return m.options
}

// Prepare converts to grayscale and applies the configured blur
func (m *coreMarker) Prepare(img image.Image) (gocv.Mat, error) {
	gray, err := imaging.GrayMat(img)
	if err != nil {
		return gray, fmt.Errorf("failed to prepare page: %w", err)
	}
	if m.options.BlurSize < 3 {
		return gray, nil
	}
	defer gray.Close()
	return imaging.Blur(gray, m.options.BlurSize), nil
}

// DetectAnswers classifies every question in set order. A question whose
// rectangle collapses after clipping is recorded as NoAnswer with a
// QuestionError, unless FailOnInvalidRegion is set.
func (m *coreMarker) DetectAnswers(page gocv.Mat, set models.QuestionSet) (Detection, error) {
	start := time.Now()
	detection := Detection{
		Set:       set.Name,
		Policy:    m.classifier.Policy(),
		Answers:   make(models.DetectionResult, len(set.Questions)),
		Decisions: make(map[string]classifier.Decision, len(set.Questions)),
	}

	for _, q := range set.Questions {
		id := q.Key()
		decision, err := m.classifier.Classify(page, q.Options)
		if err != nil {
			var regionErr *classifier.RegionError
			if !errors.As(err, &regionErr) {
				return detection, fmt.Errorf("question %s: %w", id, err)
			}
			if m.options.FailOnInvalidRegion {
				return detection, fmt.Errorf("%s question %s: %w", set.Name, id, err)
			}
			detection.Errors = append(detection.Errors, models.QuestionError{
				QuestionID: id,
				Option:     string(models.LetterForIndex(regionErr.Index)),
				Reason:     fmt.Sprintf("region %v is invalid after clipping to the page", regionErr.Rect),
			})
			detection.Answers[id] = models.NoAnswer
			continue
		}
		detection.Answers[id] = decision.Letter
		detection.Decisions[id] = decision
	}

	detection.ProcessingTimeSec = time.Since(start).Seconds()
	return detection, nil
}
