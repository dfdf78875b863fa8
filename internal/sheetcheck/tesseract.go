package sheetcheck

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// TesseractReader reads text with a Tesseract client. The client is not
// safe for concurrent use, so calls are serialised.
type TesseractReader struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractReader creates a reader for the given language.
func NewTesseractReader(lang string) (*TesseractReader, error) {
	if lang == "" {
		lang = "eng"
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	return &TesseractReader{client: client}, nil
}

// ReadText runs OCR on img as a single block of text.
func (r *TesseractReader) ReadText(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := r.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	text, err := r.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return text, nil
}

// Close releases the Tesseract client.
func (r *TesseractReader) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
