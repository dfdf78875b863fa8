package engine

import (
	"errors"
	"fmt"

	"go-omr-marker/pkg/models"
)

var (
	// ErrNoPages is returned when a paper's document yields no page.
	ErrNoPages = errors.New("document has no pages")
	// ErrEmptyAnswerKey is returned when a section has no answer key loaded.
	ErrEmptyAnswerKey = errors.New("answer key is empty")
	// ErrEmptyQuestionSet is returned when a section has no questions.
	ErrEmptyQuestionSet = models.ErrEmptyQuestionSet
)

// MissingInputError reports a paper whose document is absent or unreadable.
type MissingInputError struct {
	Paper string
	Err   error
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("paper %s: %v", e.Paper, e.Err)
}

func (e *MissingInputError) Unwrap() error {
	return e.Err
}

// SectionError reports a section that cannot be marked at all.
type SectionError struct {
	Section string
	Err     error
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("section %s: %v", e.Section, e.Err)
}

func (e *SectionError) Unwrap() error {
	return e.Err
}
