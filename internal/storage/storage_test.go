package storage

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubFetcher struct {
	refs []string
	img  image.Image
	err  error
}

func (s *stubFetcher) FetchImage(ctx context.Context, ref string) (image.Image, error) {
	s.refs = append(s.refs, ref)
	return s.img, s.err
}

func TestLocalArchiveStore_Put(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalArchiveStore(filepath.Join(dir, "archives"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path, err := store.Put(context.Background(), "2024/alice_annotated_output.zip", []byte("zip"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(dir, "archives", "2024", "alice_annotated_output.zip"); path != want {
		t.Errorf("Expected path %s, got %s", want, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "zip" {
		t.Errorf("Expected contents 'zip', got %q", data)
	}

	// Overwrite replaces the archive
	if _, err := store.Put(context.Background(), "2024/alice_annotated_output.zip", []byte("again")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "again" {
		t.Errorf("Expected overwritten contents, got %q", data)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "archives", "2024"))
	if len(entries) != 1 {
		t.Errorf("Expected no leftover temporary files, found %d entries", len(entries))
	}
}

func TestLocalArchiveStore_RejectsBadNames(t *testing.T) {
	store, err := NewLocalArchiveStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"", "/", "../escape.zip", "a/../../b.zip"} {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Put(context.Background(), name, []byte("x")); err == nil {
				t.Errorf("Expected error for %q", name)
			}
		})
	}
}

func TestLocalArchiveStore_CancelledContext(t *testing.T) {
	store, _ := NewLocalArchiveStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, "a.zip", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseAzureRef(t *testing.T) {
	tests := []struct {
		ref           string
		wantContainer string
		wantBlob      string
		wantErr       bool
	}{
		{"azure://templates/reading.pdf", "templates", "reading.pdf", false},
		{"azure://templates/2024/qr_ar.png", "templates", "2024/qr_ar.png", false},
		{"azure://templates/", "", "", true},
		{"azure:///reading.pdf", "", "", true},
		{"https://host/reading.pdf", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			container, blob, err := ParseAzureRef(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %s", tt.ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if container != tt.wantContainer || blob != tt.wantBlob {
				t.Errorf("Expected %s/%s, got %s/%s", tt.wantContainer, tt.wantBlob, container, blob)
			}
		})
	}
}

func TestTemplateFetcher_LocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reading.png")
	if err := os.WriteFile(path, createTestPNG(t, 20, 30), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	f := NewTemplateFetcher(nil, nil)
	img, err := f.FetchImage(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 30 {
		t.Errorf("Expected 20x30, got %v", img.Bounds())
	}

	if _, err := f.FetchImage(context.Background(), filepath.Join(dir, "missing.png")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestTemplateFetcher_Dispatch(t *testing.T) {
	page := image.NewGray(image.Rect(0, 0, 4, 4))
	httpStub := &stubFetcher{img: page}
	azureStub := &stubFetcher{img: page}
	f := NewTemplateFetcher(httpStub, azureStub)

	if _, err := f.FetchImage(context.Background(), "https://example.com/reading.pdf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.FetchImage(context.Background(), "azure://templates/qr_ar.pdf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(httpStub.refs) != 1 || httpStub.refs[0] != "https://example.com/reading.pdf" {
		t.Errorf("Expected http fetcher to serve the https reference, got %v", httpStub.refs)
	}
	if len(azureStub.refs) != 1 || azureStub.refs[0] != "azure://templates/qr_ar.pdf" {
		t.Errorf("Expected azure fetcher to serve the azure reference, got %v", azureStub.refs)
	}

	if _, err := f.FetchImage(context.Background(), "ftp://example.com/reading.pdf"); err == nil {
		t.Error("Expected ftp scheme to be rejected")
	}
	if len(httpStub.refs) != 1 {
		t.Error("Rejected reference should not reach a fetcher")
	}
}

func TestTemplateFetcher_AzureNotConfigured(t *testing.T) {
	f := NewTemplateFetcher(&stubFetcher{}, nil)
	_, err := f.FetchImage(context.Background(), "azure://templates/reading.pdf")
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("Expected not configured error, got %v", err)
	}
}

func TestTemplateFetcher_LoadTemplates(t *testing.T) {
	pngData := createTestPNG(t, 10, 10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(pngData)
	}))
	defer server.Close()

	f := NewTemplateFetcher(newTestFetcher(), nil)
	templates, err := f.LoadTemplates(context.Background(), map[string]string{
		"reading": server.URL + "/reading.png",
		"qr_ar":   "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(templates) != 1 || templates["reading"] == nil {
		t.Errorf("Expected only the reading template, got %v", templates)
	}

	_, err = f.LoadTemplates(context.Background(), map[string]string{"qr_ar": server.URL + "/missing"})
	if err == nil || !strings.Contains(err.Error(), "template for qr_ar") {
		t.Errorf("Expected wrapped error naming the paper, got %v", err)
	}
}
