package models

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Letter is a bubble option label, or NoAnswer when nothing was detected.
type Letter string

const (
	LetterA Letter = "A"
	LetterB Letter = "B"
	LetterC Letter = "C"
	LetterD Letter = "D"
	LetterE Letter = "E"

	// NoAnswer marks a blank or ambiguous question.
	NoAnswer Letter = "blank"
)

// MaxOptions is the number of bubbles a question can carry (A..E).
const MaxOptions = 5

// Letters lists the option labels in rectangle order.
var Letters = []Letter{LetterA, LetterB, LetterC, LetterD, LetterE}

var (
	ErrInvalidLetter     = errors.New("letter must be one of A, B, C, D, E")
	ErrInvalidQuestionID = errors.New("question id must be a positive integer")
)

// LetterForIndex maps an option position to its letter.
func LetterForIndex(i int) Letter {
	if i < 0 || i >= len(Letters) {
		return NoAnswer
	}
	return Letters[i]
}

// Index returns the option position of the letter, or -1.
func (l Letter) Index() int {
	for i, candidate := range Letters {
		if candidate == l {
			return i
		}
	}
	return -1
}

// IsOption reports whether l is one of A..E.
func (l Letter) IsOption() bool {
	return l.Index() >= 0
}

// ParseLetter accepts a single option letter, case-insensitive.
func ParseLetter(s string) (Letter, error) {
	l := Letter(strings.ToUpper(strings.TrimSpace(s)))
	if !l.IsOption() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLetter, s)
	}
	return l, nil
}

// ValidateQuestionID checks that id is a canonical positive integer string.
func ValidateQuestionID(id string) error {
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 || strconv.Itoa(n) != id {
		return fmt.Errorf("%w: %q", ErrInvalidQuestionID, id)
	}
	return nil
}

// AnswerKey maps question id to the correct letter.
type AnswerKey map[string]Letter

// Validate checks every id and letter in the key.
func (k AnswerKey) Validate() error {
	for _, id := range k.IDs() {
		if err := ValidateQuestionID(id); err != nil {
			return err
		}
		if !k[id].IsOption() {
			return fmt.Errorf("question %s: %w: %q", id, ErrInvalidLetter, k[id])
		}
	}
	return nil
}

// IDs returns the key's question ids in numeric order.
func (k AnswerKey) IDs() []string {
	ids := make([]string, 0, len(k))
	for id := range k {
		ids = append(ids, id)
	}
	SortQuestionIDs(ids)
	return ids
}

// DetectionResult maps question id to the detected letter or NoAnswer.
type DetectionResult map[string]Letter

// QuestionError records a per-question configuration problem.
type QuestionError struct {
	QuestionID string `json:"question_id"`
	Option     string `json:"option,omitempty"`
	Reason     string `json:"reason"`
}

// SectionResult is the scored outcome of one subject section.
type SectionResult struct {
	Section string          `json:"-"`
	Subject string          `json:"subject,omitempty"`
	Answers DetectionResult `json:"answers"`
	Results map[string]bool `json:"results"`
	Correct int             `json:"correct"`
	Total   int             `json:"total"`
	Errors  []QuestionError `json:"errors,omitempty"`
}

// Percent returns the share of correct answers, 0 when the section is empty.
func (s SectionResult) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return 100.0 * float64(s.Correct) / float64(s.Total)
}

// SortQuestionIDs orders ids numerically, falling back to lexical order.
func SortQuestionIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if errA == nil {
			return true
		}
		if errB == nil {
			return false
		}
		return ids[i] < ids[j]
	})
}
