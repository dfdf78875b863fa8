package container

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-omr-marker/internal/config"
	"go-omr-marker/pkg/models"

	"github.com/gin-gonic/gin"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Host:               "127.0.0.1",
		Port:               "8080",
		RequestTimeout:     time.Minute,
		TemplateTimeout:    5 * time.Second,
		MaxRequestBodySize: 1 << 20,
		AppPassword:        "secret",
		SessionStore:       config.StoreMemory,
		SessionTTL:         time.Hour,
		RecordStore:        config.StoreMemory,
		ArchiveStore:       config.StoreLocal,
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

func TestNewContainer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)

	c, err := NewContainer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close(context.Background())

	if c.Config() != cfg {
		t.Error("Expected container to keep the config")
	}
	if c.MarkingService() == nil || c.Metrics() == nil {
		t.Fatal("Expected marking service and metrics to be wired")
	}
	if got := len(c.MarkingService().Layout().Papers); got != 2 {
		t.Errorf("Expected built-in layout with 2 papers, got %d", got)
	}

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from login, got %d: %s", w.Code, w.Body.String())
	}
	var login models.LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("failed to decode login: %v", err)
	}
	if login.SessionID == "" || login.Token == "" {
		t.Errorf("Expected session id and token, got %+v", login)
	}
}

func TestNewContainer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.Config)
	}{
		{"missing layout file", func(cfg *config.Config) { cfg.LayoutFile = "/does/not/exist.json" }},
		{"unsupported session store", func(cfg *config.Config) { cfg.SessionStore = "etcd" }},
		{"unsupported record store", func(cfg *config.Config) { cfg.RecordStore = "sqlite" }},
		{"unsupported archive store", func(cfg *config.Config) { cfg.ArchiveStore = "s3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(cfg)
			if _, err := NewContainer(context.Background(), cfg); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
