package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// AlignmentReport summarises how a scanned page was registered.
type AlignmentReport struct {
	Paper       string     `json:"paper"`
	Aligned     bool       `json:"aligned"`
	Correlation float64    `json:"correlation,omitempty"`
	Transform   [6]float64 `json:"transform"`
	Warning     string     `json:"warning,omitempty"`
}

// StudentResult is the marking payload of one student.
type StudentResult struct {
	StudentName         string
	WritingScore        string
	Sections            []SectionResult
	StrengthsWeaknesses StrengthsWeaknesses
	Alignment           []AlignmentReport
	Warnings            []string
	MarkedAt            time.Time
}

// Section returns the section scored under key.
func (r *StudentResult) Section(key string) (SectionResult, bool) {
	for _, s := range r.Sections {
		if s.Section == key {
			return s, true
		}
	}
	return SectionResult{}, false
}

// SubjectResults collects per-question correctness by subject.
func (r *StudentResult) SubjectResults() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(r.Sections))
	for _, s := range r.Sections {
		if out[s.Subject] == nil {
			out[s.Subject] = make(map[string]bool, len(s.Results))
		}
		for id, ok := range s.Results {
			out[s.Subject][id] = ok
		}
	}
	return out
}

var reservedResultKeys = map[string]struct{}{
	"student_name":         {},
	"writing_score":        {},
	"strengths_weaknesses": {},
	"alignment":            {},
	"warnings":             {},
	"marked_at":            {},
}

// MarshalJSON flattens sections into top-level keys:
// {"student_name", "writing_score", "reading": {...}, "qr": {...}, ...}.
func (r StudentResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	field := func(key string, value any) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeKey(&buf, key); err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		buf.Write(raw)
		return nil
	}

	if err := field("student_name", r.StudentName); err != nil {
		return nil, err
	}
	if err := field("writing_score", r.WritingScore); err != nil {
		return nil, err
	}
	for _, s := range r.Sections {
		if _, reserved := reservedResultKeys[s.Section]; reserved || s.Section == "" {
			return nil, fmt.Errorf("invalid section key %q", s.Section)
		}
		if err := field(s.Section, s); err != nil {
			return nil, err
		}
	}
	sw := r.StrengthsWeaknesses
	if sw == nil {
		sw = StrengthsWeaknesses{}
	}
	if err := field("strengths_weaknesses", sw); err != nil {
		return nil, err
	}
	if len(r.Alignment) > 0 {
		if err := field("alignment", r.Alignment); err != nil {
			return nil, err
		}
	}
	if len(r.Warnings) > 0 {
		if err := field("warnings", r.Warnings); err != nil {
			return nil, err
		}
	}
	if !r.MarkedAt.IsZero() {
		if err := field("marked_at", r.MarkedAt); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a payload written by MarshalJSON. Any object
// carrying an "answers" member is read back as a section.
func (r *StudentResult) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("student result: malformed JSON")
	}
	var (
		out StudentResult
		err error
	)
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "student_name":
			out.StudentName = value.String()
		case "writing_score":
			out.WritingScore = value.String()
		case "strengths_weaknesses":
			err = json.Unmarshal([]byte(value.Raw), &out.StrengthsWeaknesses)
		case "alignment":
			err = json.Unmarshal([]byte(value.Raw), &out.Alignment)
		case "warnings":
			err = json.Unmarshal([]byte(value.Raw), &out.Warnings)
		case "marked_at":
			err = json.Unmarshal([]byte(value.Raw), &out.MarkedAt)
		default:
			if !value.IsObject() || !value.Get("answers").Exists() {
				return true
			}
			var s SectionResult
			if err = json.Unmarshal([]byte(value.Raw), &s); err == nil {
				s.Section = key.String()
				out.Sections = append(out.Sections, s)
			}
		}
		if err != nil {
			err = fmt.Errorf("student result %s: %w", key.String(), err)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	*r = out
	return nil
}
