package storage

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"os"

	"go-omr-marker/internal/document"
	"go-omr-marker/pkg/validation"
)

// TemplateFetcher resolves template references: file paths, http(s) URLs
// and azure://container/blob references.
type TemplateFetcher struct {
	validator *validation.URLValidator
	http      ImageFetcher
	azure     ImageFetcher
}

// NewTemplateFetcher creates a fetcher. A nil azure fetcher rejects
// azure:// references.
func NewTemplateFetcher(httpFetcher, azureFetcher ImageFetcher) *TemplateFetcher {
	if httpFetcher == nil {
		httpFetcher = NewHTTPImageFetcher()
	}
	return &TemplateFetcher{
		validator: validation.NewURLValidator(),
		http:      httpFetcher,
		azure:     azureFetcher,
	}
}

// FetchImage loads one template.
func (f *TemplateFetcher) FetchImage(ctx context.Context, ref string) (image.Image, error) {
	if !validation.IsRemote(ref) {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("read template: %w", err)
		}
		img, err := document.FirstPage(data)
		if err != nil {
			return nil, fmt.Errorf("decode template %s: %w", ref, err)
		}
		return img, nil
	}

	if err := f.validator.ValidateTemplateURL(ref); err != nil {
		return nil, err
	}
	u, _ := url.Parse(ref)
	if u.Scheme == "azure" {
		if f.azure == nil {
			return nil, fmt.Errorf("template %s: azure storage is not configured", ref)
		}
		return f.azure.FetchImage(ctx, ref)
	}
	return f.http.FetchImage(ctx, ref)
}

// LoadTemplates fetches every non-empty reference, keyed like refs.
func (f *TemplateFetcher) LoadTemplates(ctx context.Context, refs map[string]string) (map[string]image.Image, error) {
	out := make(map[string]image.Image, len(refs))
	for paper, ref := range refs {
		if ref == "" {
			continue
		}
		img, err := f.FetchImage(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("template for %s: %w", paper, err)
		}
		out[paper] = img
	}
	return out, nil
}
