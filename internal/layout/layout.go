// Package layout provides the exam calibration: which papers are scanned,
// which sections they carry and where every bubble sits.
package layout

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go-omr-marker/pkg/models"
)

// Paper and section keys of the built-in layout.
const (
	PaperReading = "reading"
	PaperQRAR    = "qr_ar"

	SectionReading = "reading"
	SectionQR      = "qr"
	SectionAR      = "ar"

	SubjectReading = "Reading"
	SubjectQR      = "QR"
	SubjectAR      = "AR"
)

// Question counts of the built-in layout.
const (
	ReadingQuestions = 35
	QRQuestions      = 30
	ARQuestions      = 30
)

// Default returns the built-in two-paper layout. Its bubbles are not
// calibrated yet, so every question reads as blank until a layout file
// with real coordinates is loaded.
func Default() models.ExamLayout {
	return models.ExamLayout{
		Papers: []models.PaperLayout{
			{
				Key:   PaperReading,
				Label: "Reading",
				Title: "Reading",
				Sections: []models.SectionLayout{
					{Key: SectionReading, Subject: SubjectReading, Questions: models.PlaceholderSet(SectionReading, ReadingQuestions)},
				},
			},
			{
				Key:   PaperQRAR,
				Label: "QR/AR",
				Title: "Quantitative and Abstract Reasoning",
				Sections: []models.SectionLayout{
					{Key: SectionQR, Subject: SubjectQR, Questions: models.PlaceholderSet(SectionQR, QRQuestions)},
					{Key: SectionAR, Subject: SubjectAR, Questions: models.PlaceholderSet(SectionAR, ARQuestions)},
				},
			},
		},
	}
}

// Load decodes and validates a JSON layout.
func Load(r io.Reader) (models.ExamLayout, error) {
	var l models.ExamLayout
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&l); err != nil {
		return models.ExamLayout{}, fmt.Errorf("decode layout: %w", err)
	}
	for i := range l.Papers {
		for j := range l.Papers[i].Sections {
			s := &l.Papers[i].Sections[j]
			if s.Questions.Name == "" {
				s.Questions.Name = s.Key
			}
		}
	}
	if err := l.Validate(); err != nil {
		return models.ExamLayout{}, err
	}
	return l, nil
}

// LoadFile reads a layout from path. An empty path returns Default.
func LoadFile(path string) (models.ExamLayout, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return models.ExamLayout{}, fmt.Errorf("open layout: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// WithTemplates returns a copy of l with template references overridden by
// paper key. Empty values are ignored.
func WithTemplates(l models.ExamLayout, templates map[string]string) models.ExamLayout {
	out := models.ExamLayout{Papers: make([]models.PaperLayout, len(l.Papers))}
	copy(out.Papers, l.Papers)
	for i := range out.Papers {
		if ref := templates[out.Papers[i].Key]; ref != "" {
			out.Papers[i].Template = ref
		}
	}
	return out
}
