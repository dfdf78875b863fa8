// Package document turns uploaded scans into images and annotated pages
// back into PDFs.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"
)

// ErrNoPages is returned when a document has no page image to mark.
var ErrNoPages = errors.New("document contains no pages")

// ErrUnsupportedFormat is returned for uploads that are neither PDF nor a
// supported raster image.
var ErrUnsupportedFormat = errors.New("unsupported document format")

const jpegQuality = 90

// extractImages reads the images embedded on the selected pages.
var extractImages = api.ExtractImagesRaw

func init() {
	// Keep pdfcpu from creating a config directory under the user's home.
	model.ConfigPath = "disable"
}

// IsPDF reports whether data starts with a PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-"))
}

// FirstPage returns the image of the first page of a scan. Raster uploads
// (PNG, JPEG, TIFF) are decoded directly. For PDFs the largest image
// embedded on page 1 is used, which is the scan itself for scanner output.
// PDF pages are not rasterised: a born-digital page that carries only
// vector content and text fails with ErrNoPages.
func FirstPage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrNoPages
	}
	if IsPDF(data) {
		return firstPDFPage(data)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupportedFormat
		}
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// PageCount returns the number of pages; raster images count as one.
func PageCount(data []byte) (int, error) {
	if !IsPDF(data) {
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return 0, ErrUnsupportedFormat
		}
		return 1, nil
	}
	n, err := api.PageCount(bytes.NewReader(data), pdfConfig())
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	return n, nil
}

func firstPDFPage(data []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("read pdf: malformed document: %v", r)
		}
	}()

	conf := pdfConfig()
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if n == 0 {
		return nil, ErrNoPages
	}

	pages, err := extractImages(bytes.NewReader(data), []string{"1"}, pdfConfig())
	if err != nil {
		return nil, fmt.Errorf("extract page images: %w", err)
	}

	var best image.Image
	bestArea := 0
	for _, page := range pages {
		for _, embedded := range page {
			if embedded.Thumb || embedded.IsImgMask {
				continue
			}
			decoded, _, err := image.Decode(embedded)
			if err != nil {
				// Skip images in encodings we cannot decode, e.g. JBIG2 masks.
				continue
			}
			if area := decoded.Bounds().Dx() * decoded.Bounds().Dy(); area > bestArea {
				best, bestArea = decoded, area
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: page 1 has no decodable scan image", ErrNoPages)
	}
	return best, nil
}

// EncodePDF writes img as a single-page PDF.
func EncodePDF(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePDF(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePDF writes img as a single-page PDF to w. The page is JPEG encoded
// and scaled to fill an A4 page.
func WritePDF(w io.Writer, img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return ErrNoPages
	}
	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("encode page: %w", err)
	}

	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, w, []io.Reader{&encoded}, imp, pdfConfig()); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
