// Package sheetcheck verifies that a scanned page is the sheet it claims to
// be. It reads the page's QR tag and, when OCR is available, the printed
// header. Results are advisory: a mismatch yields warnings, never an error.
package sheetcheck

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"unicode"

	"github.com/arbovm/levenshtein"
	"github.com/codycollier/wer"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoQRCode is returned by DecodeQR when the page carries no readable tag.
var ErrNoQRCode = errors.New("no QR code found")

const (
	// DefaultHeaderFraction is the share of the page height read by OCR.
	DefaultHeaderFraction = 0.15
	// DefaultMaxCER is the highest character error rate still accepted as a
	// title match.
	DefaultMaxCER = 0.35
)

// Expectation is what a page should carry. Empty fields are not checked.
type Expectation struct {
	QRTag string
	Title string
}

// Report is the outcome of checking one page.
type Report struct {
	QRText   string   `json:"qr_text,omitempty"`
	QRFound  bool     `json:"qr_found"`
	OCRText  string   `json:"ocr_text,omitempty"`
	CER      float64  `json:"cer,omitempty"`
	WER      float64  `json:"wer,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK reports whether the page passed every check that was run.
func (r Report) OK() bool {
	return len(r.Warnings) == 0
}

// TextReader extracts printed text from an image.
type TextReader interface {
	ReadText(img image.Image) (string, error)
}

// Checker runs the configured checks.
type Checker struct {
	reader         TextReader
	headerFraction float64
	maxCER         float64
}

// NewChecker creates a checker. A nil reader disables the header check.
func NewChecker(reader TextReader) *Checker {
	return &Checker{
		reader:         reader,
		headerFraction: DefaultHeaderFraction,
		maxCER:         DefaultMaxCER,
	}
}

// Check verifies img against expect.
func (c *Checker) Check(img image.Image, expect Expectation) Report {
	var report Report

	if expect.QRTag != "" {
		text, err := DecodeQR(img)
		switch {
		case err != nil:
			report.Warnings = append(report.Warnings, fmt.Sprintf("expected QR tag %q but none was readable", expect.QRTag))
		case strings.TrimSpace(text) != expect.QRTag:
			report.QRFound = true
			report.QRText = text
			report.Warnings = append(report.Warnings, fmt.Sprintf("QR tag %q does not match expected %q", text, expect.QRTag))
		default:
			report.QRFound = true
			report.QRText = text
		}
	}

	if expect.Title != "" && c.reader != nil {
		text, err := c.reader.ReadText(HeaderBand(img, c.headerFraction))
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("header OCR failed: %v", err))
			return report
		}
		report.OCRText = strings.TrimSpace(text)
		report.CER = CharacterErrorRate(expect.Title, report.OCRText)
		report.WER = WordErrorRate(expect.Title, report.OCRText)
		if report.CER > c.maxCER {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"header %q does not match title %q (CER %.2f, WER %.2f)",
				report.OCRText, expect.Title, report.CER, report.WER))
		}
	}

	return report
}

// DecodeQR reads the first QR code on img.
func DecodeQR(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("failed to create bitmap: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoQRCode, err)
	}
	return result.GetText(), nil
}

// HeaderBand returns the top fraction of img.
func HeaderBand(img image.Image, fraction float64) image.Image {
	b := img.Bounds()
	if fraction <= 0 || fraction >= 1 {
		return img
	}
	h := int(float64(b.Dy()) * fraction)
	if h < 1 {
		h = 1
	}
	band := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+h)
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(band)
	}
	return img
}

// CharacterErrorRate is the edit distance between the normalised strings
// divided by the reference length.
func CharacterErrorRate(reference, candidate string) float64 {
	ref := normalise(reference)
	cand := normalise(candidate)
	n := len([]rune(ref))
	if n == 0 {
		if len(cand) == 0 {
			return 0
		}
		return 1
	}
	return float64(levenshtein.Distance(ref, cand)) / float64(n)
}

// WordErrorRate compares the normalised word sequences.
func WordErrorRate(reference, candidate string) float64 {
	ref := strings.Fields(normalise(reference))
	cand := strings.Fields(normalise(candidate))
	if len(ref) == 0 {
		if len(cand) == 0 {
			return 0
		}
		return 1
	}
	rate, _ := wer.WER(ref, cand)
	return rate
}

// normalise lowercases, drops punctuation and collapses whitespace.
func normalise(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
