package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-omr-marker/internal/config"
	"go-omr-marker/internal/session"
	"go-omr-marker/internal/storage"
	"go-omr-marker/internal/strategy"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Host:               "127.0.0.1",
		Port:               "8080",
		RequestTimeout:     time.Minute,
		TemplateTimeout:    5 * time.Second,
		MaxRequestBodySize: 1 << 20,
		SessionStore:       config.StoreMemory,
		SessionTTL:         time.Hour,
		RecordStore:        config.StoreNone,
		ArchiveStore:       config.StoreNone,
		ArchiveDir:         t.TempDir(),
		AlignMaxIterations: 50,
		AlignEpsilon:       1e-5,
		AlignMaxDimension:  600,
		MinFillDelta:       12,
		SelectionPolicy:    "strict_margin",
		ConceptThreshold:   51,
		BatchWorkers:       2,
	}
}

func TestNewSessionStore(t *testing.T) {
	cfg := testConfig(t)
	store, err := NewSessionStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*session.MemoryStore); !ok {
		t.Errorf("Expected memory store, got %T", store)
	}

	cfg.SessionStore = "sqlite"
	if _, err := NewSessionStore(context.Background(), cfg); err == nil {
		t.Error("Expected error for unsupported store")
	}
}

func TestNewSessionStore_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionStore = config.StoreRedis
	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := NewSessionStore(context.Background(), cfg); err == nil {
		t.Error("Expected error for unreachable redis")
	}
}

func TestNewRecordRepository(t *testing.T) {
	cfg := testConfig(t)
	repo, err := NewRecordRepository(context.Background(), cfg)
	if err != nil || repo != nil {
		t.Errorf("Expected no repository for RECORD_STORE=none, got %v %v", repo, err)
	}

	cfg.RecordStore = config.StoreMemory
	repo, err = NewRecordRepository(context.Background(), cfg)
	if err != nil || repo == nil {
		t.Errorf("Expected memory repository, got %v %v", repo, err)
	}
}

func TestNewArchiveStore(t *testing.T) {
	cfg := testConfig(t)
	store, err := NewArchiveStore(cfg, nil)
	if err != nil || store != nil {
		t.Errorf("Expected no archive store for ARCHIVE_STORE=none, got %v %v", store, err)
	}

	cfg.ArchiveStore = config.StoreLocal
	store, err = NewArchiveStore(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*storage.LocalArchiveStore); !ok {
		t.Errorf("Expected local store, got %T", store)
	}

	cfg.ArchiveStore = config.StoreAzure
	if _, err := NewArchiveStore(cfg, nil); err == nil {
		t.Error("Expected error for azure without an account")
	}
}

func TestNewAzureBlobStore_NotConfigured(t *testing.T) {
	store, err := NewAzureBlobStore(testConfig(t))
	if err != nil || store != nil {
		t.Errorf("Expected nil store without credentials, got %v %v", store, err)
	}
}

func TestMarkerOptions(t *testing.T) {
	cfg := testConfig(t)
	opts, err := MarkerOptions(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Policy != strategy.StrictMargin || opts.MinFillDelta != 12 {
		t.Errorf("unexpected options %+v", opts)
	}

	cfg.SelectionPolicy = "naive_darkest"
	opts, err = MarkerOptions(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Policy != strategy.NaiveDarkest || opts.BlurSize != 0 {
		t.Errorf("Expected naive policy without blur, got %+v", opts)
	}

	cfg.SelectionPolicy = "coin_flip"
	if _, err := MarkerOptions(cfg); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestAlignmentOptions(t *testing.T) {
	opts := AlignmentOptions(testConfig(t))
	if opts.MaxIterations != 50 || opts.Epsilon != 1e-5 || opts.MaxWorkingDimension != 600 {
		t.Errorf("unexpected alignment options %+v", opts)
	}
}

func TestNewSheetChecker_Disabled(t *testing.T) {
	checker, closer := NewSheetChecker(testConfig(t))
	if checker != nil || closer != nil {
		t.Error("Expected no sheet checker when SHEET_CHECK is off")
	}
}

func TestNewEngine_DefaultLayout(t *testing.T) {
	e, err := NewEngine(context.Background(), testConfig(t), EngineDeps{Templates: NewTemplateFetcher(nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(e.Layout().SectionKeys()); got != 3 {
		t.Errorf("Expected 3 sections in the default layout, got %d", got)
	}
}

func TestNewEngine_MissingTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.TemplateReading = filepath.Join(t.TempDir(), "missing.png")
	if _, err := NewEngine(context.Background(), cfg, EngineDeps{Templates: NewTemplateFetcher(nil)}); err == nil {
		t.Error("Expected error for a missing template")
	}
}

func TestNewEngine_LayoutFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.LayoutFile = filepath.Join(t.TempDir(), "layout.json")
	if err := os.WriteFile(cfg.LayoutFile, []byte(`{"papers": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine(context.Background(), cfg, EngineDeps{Templates: NewTemplateFetcher(nil)}); err == nil {
		t.Error("Expected error for a layout without papers")
	}
}
