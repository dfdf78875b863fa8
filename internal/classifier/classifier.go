// Package classifier decides which bubble of a question was filled by
// comparing the mean intensity of its option rectangles.
package classifier

import (
	"errors"
	"fmt"
	"image"

	"go-omr-marker/internal/strategy"
	"go-omr-marker/pkg/models"

	"gocv.io/x/gocv"
)

// ErrInvalidRegion is returned when a rectangle has no area once clipped to
// the image. It is a configuration problem, not a blank answer.
var ErrInvalidRegion = errors.New("region is empty after clipping to the image")

// RegionError identifies the option rectangle that could not be sampled.
type RegionError struct {
	Index int
	Rect  models.Rectangle
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("option %s %v: %v", models.LetterForIndex(e.Index), e.Rect, ErrInvalidRegion)
}

func (e *RegionError) Unwrap() error {
	return ErrInvalidRegion
}

// Clamp clips r to an image of the given size. The left and top edges are
// kept inside the last pixel, the right and bottom edges may equal the size.
func Clamp(r models.Rectangle, width, height int) (models.Rectangle, error) {
	c := models.Rectangle{
		X1: clampInt(r.X1, 0, width-1),
		Y1: clampInt(r.Y1, 0, height-1),
		X2: clampInt(r.X2, 0, width),
		Y2: clampInt(r.Y2, 0, height),
	}
	if c.X2 <= c.X1 || c.Y2 <= c.Y1 {
		return c, ErrInvalidRegion
	}
	return c, nil
}

// MeanIntensity averages the gray values inside r, clipped to a single
// channel page.
func MeanIntensity(page gocv.Mat, r models.Rectangle) (float64, error) {
	c, err := Clamp(r, page.Cols(), page.Rows())
	if err != nil {
		return 0, err
	}
	roi := page.Region(image.Rect(c.X1, c.Y1, c.X2, c.Y2))
	defer roi.Close()
	return roi.Mean().Val1, nil
}

// Decision is the outcome of classifying one question.
type Decision struct {
	Letter models.Letter         `json:"letter"`
	Index  int                   `json:"index"`
	Means  []strategy.OptionMean `json:"means"`
	// Margin is the gap between the darkest and second darkest option,
	// 0 when fewer than two options were sampled.
	Margin float64 `json:"margin"`
}

// Answered reports whether an option was selected.
func (d Decision) Answered() bool {
	return d.Letter != models.NoAnswer
}

// Classifier samples option rectangles and applies a selection strategy.
type Classifier struct {
	strategy strategy.SelectionStrategy
}

// New creates a classifier. A nil strategy uses the strict margin default.
func New(s strategy.SelectionStrategy) *Classifier {
	if s == nil {
		s = strategy.NewStrictMarginStrategy(strategy.DefaultMinFillDelta)
	}
	return &Classifier{strategy: s}
}

// NewWithPolicy creates a classifier for a named policy.
func NewWithPolicy(policy strategy.Policy, minFillDelta float64) (*Classifier, error) {
	s, err := strategy.New(policy, minFillDelta)
	if err != nil {
		return nil, err
	}
	return New(s), nil
}

// Policy returns the name of the active selection strategy.
func (c *Classifier) Policy() string {
	return c.strategy.GetStrategyName()
}

// Classify samples every calibrated option and picks the marked one. Zero
// rectangles are skipped; the letter always follows the option position.
// A rectangle that collapses after clipping aborts with a *RegionError.
func (c *Classifier) Classify(page gocv.Mat, options []models.Rectangle) (Decision, error) {
	decision := Decision{Letter: models.NoAnswer, Index: -1}

	for i, opt := range options {
		if opt.IsZero() {
			continue
		}
		mean, err := MeanIntensity(page, opt)
		if err != nil {
			return Decision{Letter: models.NoAnswer, Index: -1}, &RegionError{Index: i, Rect: opt}
		}
		decision.Means = append(decision.Means, strategy.OptionMean{Index: i, Mean: mean})
	}

	decision.Margin = margin(decision.Means)
	if idx, ok := c.strategy.Select(decision.Means); ok {
		decision.Index = idx
		decision.Letter = models.LetterForIndex(idx)
	}
	return decision, nil
}

func margin(means []strategy.OptionMean) float64 {
	if len(means) < 2 {
		return 0
	}
	best, second := means[0].Mean, means[1].Mean
	if second < best {
		best, second = second, best
	}
	for _, m := range means[2:] {
		switch {
		case m.Mean < best:
			best, second = m.Mean, best
		case m.Mean < second:
			second = m.Mean
		}
	}
	return second - best
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
