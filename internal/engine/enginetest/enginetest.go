// Package enginetest draws synthetic answer sheets for tests.
package enginetest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"

	"go-omr-marker/pkg/models"
)

const (
	bubble  = 20
	pitch   = 40
	options = 4
	fill    = 20

	// top leaves room for the score written at (50, 50).
	top = 100
)

// rows builds questions 1..n whose bubble rows start at y0.
func rows(name string, n, y0 int) models.QuestionSet {
	set := models.QuestionSet{Name: name}
	for q := 1; q <= n; q++ {
		roi := models.QuestionROI{ID: q}
		y := y0 + (q-1)*pitch
		for o := 0; o < options; o++ {
			x := 20 + o*pitch
			roi.Options = append(roi.Options, models.Rect(x, y, x+bubble, y+bubble))
		}
		set.Questions = append(set.Questions, roi)
	}
	return set
}

// Layout returns a small calibrated exam: a reading paper with three
// questions and a qr_ar paper with two QR and two AR questions.
func Layout() models.ExamLayout {
	return models.ExamLayout{Papers: []models.PaperLayout{
		{
			Key:   "reading",
			Label: "Reading",
			Sections: []models.SectionLayout{
				{Key: "reading", Subject: "Reading", Questions: rows("reading", 3, top)},
			},
		},
		{
			Key:   "qr_ar",
			Label: "QR/AR",
			Sections: []models.SectionLayout{
				{Key: "qr", Subject: "QR", Questions: rows("qr", 2, top)},
				{Key: "ar", Subject: "AR", Questions: rows("ar", 2, top+2*pitch)},
			},
		},
	}}
}

// Marks are the letters a student filled, by section then question id.
type Marks map[string]map[string]models.Letter

// Page draws a paper on white with the given marks.
func Page(l models.ExamLayout, paper string, marks Marks) *image.RGBA {
	return draw(l, paper, marks, 0, 0, func(x, y int) uint8 { return 255 })
}

// TexturedPage draws a paper on a smooth texture, shifted by (dx, dy).
// With no marks it serves as an alignment template.
func TexturedPage(l models.ExamLayout, paper string, marks Marks, dx, dy int) *image.RGBA {
	return draw(l, paper, marks, dx, dy, func(x, y int) uint8 {
		v := 170 + 40*math.Sin(float64(x-dx)/9) + 40*math.Cos(float64(y-dy)/11)
		return uint8(math.Round(v))
	})
}

func draw(l models.ExamLayout, paper string, marks Marks, dx, dy int, bg func(x, y int) uint8) *image.RGBA {
	p, _ := l.Paper(paper)
	width, height := Size(p)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := bg(x, y)
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}

	for _, s := range p.Sections {
		for id, letter := range marks[s.Key] {
			q, ok := s.Questions.Question(id)
			idx := letter.Index()
			if !ok || idx < 0 || idx >= len(q.Options) {
				continue
			}
			r := q.Options[idx]
			for y := r.Y1 + dy; y < r.Y2+dy; y++ {
				for x := r.X1 + dx; x < r.X2+dx; x++ {
					img.SetRGBA(x, y, color.RGBA{fill, fill, fill, 255})
				}
			}
		}
	}
	return img
}

// Size returns the page size that fits every bubble of p with a margin.
func Size(p models.PaperLayout) (int, int) {
	width, height := 0, 0
	for _, s := range p.Sections {
		for _, q := range s.Questions.Questions {
			for _, r := range q.Options {
				if r.X2 > width {
					width = r.X2
				}
				if r.Y2 > height {
					height = r.Y2
				}
			}
		}
	}
	return width + 40, height + 40
}

// PNG encodes img.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Keys returns answer keys for Layout. AR question 3 is keyed but not
// printed on the sheet.
func Keys() map[string]models.AnswerKey {
	return map[string]models.AnswerKey{
		"reading": {"1": "A", "2": "C", "3": "D"},
		"qr":      {"1": "B", "2": "D"},
		"ar":      {"1": "C", "2": "B", "3": "A"},
	}
}

// StudentMarks answers reading 1 A, 2 B and leaves 3 blank; QR 1 B, 2 D;
// AR 1 C, 2 A.
func StudentMarks() Marks {
	return Marks{
		"reading": {"1": "A", "2": "B"},
		"qr":      {"1": "B", "2": "D"},
		"ar":      {"1": "C", "2": "A"},
	}
}

// Concepts returns a concept map over Layout.
func Concepts() models.ConceptMap {
	return models.ConceptMap{
		{Subject: "Reading", Concepts: []models.Concept{
			{Name: "Inference", Questions: []string{"1", "2"}},
			{Name: "Vocabulary", Questions: []string{"3"}},
		}},
		{Subject: "QR", Concepts: []models.Concept{
			{Name: "Algebra", Questions: []string{"1", "2"}},
		}},
		{Subject: "AR", Concepts: []models.Concept{
			{Name: "Patterns", Questions: []string{"1"}},
			{Name: "Unused", Questions: []string{}},
		}},
	}
}
