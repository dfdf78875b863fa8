// Package annotate draws marking feedback onto aligned answer sheets.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"go-omr-marker/internal/imaging"
	"go-omr-marker/pkg/models"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	Red   = color.RGBA{R: 255, A: 255}
	Black = color.RGBA{A: 255}
)

const (
	// OutlineWidth is the stroke width of incorrect-answer boxes.
	OutlineWidth = 4
	// TextScale enlarges the 7x13 bitmap face to a readable size on 300 dpi scans.
	TextScale = 3
)

// ScorePosition is where the section score is written.
var ScorePosition = image.Pt(50, 50)

// IncorrectBubbles returns a copy of img with a red outline around the
// student's chosen bubble for every incorrect question. Blank answers and
// correct ones are left untouched.
func IncorrectBubbles(img image.Image, section models.SectionResult, set models.QuestionSet) *image.RGBA {
	out := imaging.ToRGBA(img)
	for _, q := range set.Questions {
		id := q.Key()
		letter, answered := section.Answers[id]
		if !answered {
			continue
		}
		if correct, scored := section.Results[id]; !scored || correct {
			continue
		}
		idx := letter.Index()
		if idx < 0 || idx >= len(q.Options) || q.Options[idx].IsZero() {
			continue
		}
		StrokeRect(out, q.Options[idx].Bounds(), OutlineWidth, Red)
	}
	return out
}

// SectionScore returns a copy of img with "label: correct/total" written at pt.
func SectionScore(img image.Image, label string, correct, total int, pt image.Point) *image.RGBA {
	out := imaging.ToRGBA(img)
	DrawText(out, fmt.Sprintf("%s: %d/%d", label, correct, total), pt, Black)
	return out
}

// StrokeRect draws an outline of the given width inside r.
func StrokeRect(dst *image.RGBA, r image.Rectangle, width int, c color.Color) {
	r = r.Canon().Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	if width < 1 {
		width = 1
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// DrawText writes text with its top-left corner at pt, enlarged by TextScale.
func DrawText(dst *image.RGBA, text string, pt image.Point, c color.Color) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	width := font.MeasureString(face, text).Ceil()
	height := metrics.Height.Ceil()
	if width == 0 || height == 0 {
		return
	}

	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.Point26_6{Y: metrics.Ascent},
	}
	d.DrawString(text)

	scaled := image.NewAlpha(image.Rect(0, 0, width*TextScale, height*TextScale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), mask, mask.Bounds(), draw.Src, nil)

	target := scaled.Bounds().Add(pt)
	draw.DrawMask(dst, target, image.NewUniform(c), image.Point{}, scaled, image.Point{}, draw.Over)
}
