package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strconv"
)

var (
	ErrInvalidRectangle  = errors.New("rectangle must satisfy x2 > x1 and y2 > y1")
	ErrTooManyOptions    = errors.New("question has more than 5 options")
	ErrDuplicateQuestion = errors.New("duplicate question id")
	ErrEmptyQuestionSet  = errors.New("question set has no questions")
)

// Rectangle holds the pixel bounds of one bubble in template coordinates.
// The zero value means the option is not calibrated and is skipped.
type Rectangle struct {
	X1, Y1, X2, Y2 int
}

// Rect builds a Rectangle from its corners.
func Rect(x1, y1, x2, y2 int) Rectangle {
	return Rectangle{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// IsZero reports whether r is the uncalibrated sentinel.
func (r Rectangle) IsZero() bool {
	return r.X1 == 0 && r.Y1 == 0 && r.X2 == 0 && r.Y2 == 0
}

// Validate rejects non-zero rectangles with no area.
func (r Rectangle) Validate() error {
	if r.IsZero() {
		return nil
	}
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return fmt.Errorf("%w: %v", ErrInvalidRectangle, r)
	}
	return nil
}

// Bounds converts r to an image.Rectangle.
func (r Rectangle) Bounds() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

func (r Rectangle) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// MarshalJSON encodes the rectangle as [x1, y1, x2, y2].
func (r Rectangle) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{r.X1, r.Y1, r.X2, r.Y2})
}

// UnmarshalJSON decodes a four element array.
func (r *Rectangle) UnmarshalJSON(data []byte) error {
	var coords []int
	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("rectangle: %w", err)
	}
	if len(coords) != 4 {
		return fmt.Errorf("rectangle: expected 4 coordinates, got %d", len(coords))
	}
	*r = Rectangle{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
	return nil
}

// QuestionROI is a question and its option rectangles in A..E order.
type QuestionROI struct {
	ID      int         `json:"id"`
	Options []Rectangle `json:"options"`
}

// Key returns the question id as used by answer keys.
func (q QuestionROI) Key() string {
	return strconv.Itoa(q.ID)
}

func (q QuestionROI) Validate() error {
	if q.ID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuestionID, q.ID)
	}
	if len(q.Options) > MaxOptions {
		return fmt.Errorf("question %d: %w", q.ID, ErrTooManyOptions)
	}
	for i, opt := range q.Options {
		if err := opt.Validate(); err != nil {
			return fmt.Errorf("question %d option %s: %w", q.ID, LetterForIndex(i), err)
		}
	}
	return nil
}

// Calibrated reports whether at least one option has real bounds.
func (q QuestionROI) Calibrated() bool {
	for _, opt := range q.Options {
		if !opt.IsZero() {
			return true
		}
	}
	return false
}

// QuestionSet is the ordered calibration of one template section.
type QuestionSet struct {
	Name      string        `json:"name"`
	Questions []QuestionROI `json:"questions"`
}

// Validate checks the set is non-empty with unique, valid questions.
func (s QuestionSet) Validate() error {
	if len(s.Questions) == 0 {
		return fmt.Errorf("%s: %w", s.Name, ErrEmptyQuestionSet)
	}
	seen := make(map[int]struct{}, len(s.Questions))
	for _, q := range s.Questions {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		if _, ok := seen[q.ID]; ok {
			return fmt.Errorf("%s: %w: %d", s.Name, ErrDuplicateQuestion, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// Question looks up a question by its string id.
func (s QuestionSet) Question(id string) (QuestionROI, bool) {
	for _, q := range s.Questions {
		if q.Key() == id {
			return q, true
		}
	}
	return QuestionROI{}, false
}

// PlaceholderSet builds a set of uncalibrated questions with ids 1..n.
func PlaceholderSet(name string, n int) QuestionSet {
	set := QuestionSet{Name: name, Questions: make([]QuestionROI, 0, n)}
	for id := 1; id <= n; id++ {
		set.Questions = append(set.Questions, QuestionROI{
			ID:      id,
			Options: make([]Rectangle, MaxOptions),
		})
	}
	return set
}
