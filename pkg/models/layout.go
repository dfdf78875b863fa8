package models

import (
	"errors"
	"fmt"
)

var ErrInvalidLayout = errors.New("invalid exam layout")

// SectionLayout binds a question set to the answer key and concept subject
// it is scored against.
type SectionLayout struct {
	Key       string      `json:"key"`
	Subject   string      `json:"subject"`
	Questions QuestionSet `json:"questions"`
}

// PaperLayout describes one scanned document and the sections printed on it.
type PaperLayout struct {
	Key      string          `json:"key"`
	Label    string          `json:"label"`
	Template string          `json:"template,omitempty"`
	Title    string          `json:"title,omitempty"`
	QRTag    string          `json:"qr_tag,omitempty"`
	Sections []SectionLayout `json:"sections"`
}

// ExamLayout is the static calibration of an exam.
type ExamLayout struct {
	Papers []PaperLayout `json:"papers"`
}

func (l ExamLayout) Validate() error {
	if len(l.Papers) == 0 {
		return fmt.Errorf("%w: no papers", ErrInvalidLayout)
	}
	papers := make(map[string]struct{})
	sections := make(map[string]struct{})
	for _, p := range l.Papers {
		if p.Key == "" {
			return fmt.Errorf("%w: paper without key", ErrInvalidLayout)
		}
		if _, ok := papers[p.Key]; ok {
			return fmt.Errorf("%w: duplicate paper %q", ErrInvalidLayout, p.Key)
		}
		papers[p.Key] = struct{}{}
		if len(p.Sections) == 0 {
			return fmt.Errorf("%w: paper %q has no sections", ErrInvalidLayout, p.Key)
		}
		for _, s := range p.Sections {
			if s.Key == "" || s.Subject == "" {
				return fmt.Errorf("%w: paper %q has a section without key or subject", ErrInvalidLayout, p.Key)
			}
			if _, ok := sections[s.Key]; ok {
				return fmt.Errorf("%w: duplicate section %q", ErrInvalidLayout, s.Key)
			}
			sections[s.Key] = struct{}{}
			if err := s.Questions.Validate(); err != nil {
				return fmt.Errorf("%w: section %q: %v", ErrInvalidLayout, s.Key, err)
			}
		}
	}
	return nil
}

// Paper looks up a paper by key.
func (l ExamLayout) Paper(key string) (PaperLayout, bool) {
	for _, p := range l.Papers {
		if p.Key == key {
			return p, true
		}
	}
	return PaperLayout{}, false
}

// Section looks up a section by key across all papers.
func (l ExamLayout) Section(key string) (SectionLayout, bool) {
	for _, p := range l.Papers {
		for _, s := range p.Sections {
			if s.Key == key {
				return s, true
			}
		}
	}
	return SectionLayout{}, false
}

// SectionKeys lists every section key in layout order.
func (l ExamLayout) SectionKeys() []string {
	var keys []string
	for _, p := range l.Papers {
		for _, s := range p.Sections {
			keys = append(keys, s.Key)
		}
	}
	return keys
}
