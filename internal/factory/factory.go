package factory

import (
	"context"
	"fmt"
	"io"
	"time"

	"go-omr-marker/internal/alignment"
	"go-omr-marker/internal/config"
	"go-omr-marker/internal/engine"
	"go-omr-marker/internal/layout"
	"go-omr-marker/internal/logger"
	"go-omr-marker/internal/marker"
	"go-omr-marker/internal/observer"
	"go-omr-marker/internal/repository"
	"go-omr-marker/internal/session"
	"go-omr-marker/internal/sheetcheck"
	"go-omr-marker/internal/storage"
	"go-omr-marker/internal/strategy"
)

// ocrLanguage is the tesseract language used for sheet titles
const ocrLanguage = "eng"

// NewSessionStore creates the session backend named by SESSION_STORE
func NewSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.SessionStore {
	case config.StoreMemory:
		return session.NewMemoryStore(cfg.SessionTTL), nil
	case config.StoreRedis:
		store := session.NewRedisStoreFromAddr(cfg.RedisAddr, cfg.SessionTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			store.Close()
			return nil, fmt.Errorf("redis session store at %s: %w", cfg.RedisAddr, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", cfg.SessionStore)
	}
}

// NewRecordRepository creates the marking history backend. RECORD_STORE=none
// returns a nil repository.
func NewRecordRepository(ctx context.Context, cfg *config.Config) (repository.RecordRepository, error) {
	switch cfg.RecordStore {
	case config.StoreNone:
		return nil, nil
	case config.StoreMemory:
		return repository.NewMemoryRecordRepository(), nil
	case config.StoreMongo:
		repo, err := repository.NewMongoRecordRepository(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.StorePostgres:
		repo, err := repository.NewPostgresRecordRepository(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported record store type: %s", cfg.RecordStore)
	}
}

// NewAzureBlobStore returns nil when no Azure account is configured
func NewAzureBlobStore(cfg *config.Config) (*storage.AzureBlobStore, error) {
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
		return nil, nil
	}
	return storage.NewAzureBlobStore(cfg.AzureAccountName, cfg.AzureAccountKey, cfg.AzureContainer)
}

// NewArchiveStore creates the output archive backend. ARCHIVE_STORE=none
// returns a nil store.
func NewArchiveStore(cfg *config.Config, azure *storage.AzureBlobStore) (storage.ArchiveStore, error) {
	switch cfg.ArchiveStore {
	case config.StoreNone:
		return nil, nil
	case config.StoreLocal:
		store, err := storage.NewLocalArchiveStore(cfg.ArchiveDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreAzure:
		if azure == nil {
			return nil, fmt.Errorf("azure archive store requires AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY")
		}
		return azure, nil
	default:
		return nil, fmt.Errorf("unsupported archive store type: %s", cfg.ArchiveStore)
	}
}

// NewTemplateFetcher resolves template references; azure:// references
// need an Azure account.
func NewTemplateFetcher(azure *storage.AzureBlobStore) *storage.TemplateFetcher {
	if azure == nil {
		return storage.NewTemplateFetcher(storage.NewHTTPImageFetcher(), nil)
	}
	return storage.NewTemplateFetcher(storage.NewHTTPImageFetcher(), azure)
}

// NewSheetChecker returns nil when SHEET_CHECK is off. Without tesseract
// the checker still verifies QR tags.
func NewSheetChecker(cfg *config.Config) (engine.SheetChecker, io.Closer) {
	if !cfg.SheetCheck {
		return nil, nil
	}
	reader, err := sheetcheck.NewTesseractReader(ocrLanguage)
	if err != nil {
		logger.WithError(err).Warn("OCR unavailable, sheet check limited to QR tags")
		return sheetcheck.NewChecker(nil), nil
	}
	return sheetcheck.NewChecker(reader), reader
}

// AlignmentOptions maps the ALIGN_* settings
func AlignmentOptions(cfg *config.Config) alignment.Options {
	return alignment.DefaultOptions().
		WithMaxIterations(cfg.AlignMaxIterations).
		WithEpsilon(cfg.AlignEpsilon).
		WithWorkingDimension(cfg.AlignMaxDimension)
}

// MarkerOptions maps SELECTION_POLICY and MIN_FILL_DELTA
func MarkerOptions(cfg *config.Config) (marker.MarkerOptions, error) {
	policy, err := strategy.ParsePolicy(cfg.SelectionPolicy)
	if err != nil {
		return marker.MarkerOptions{}, err
	}
	opts := marker.DefaultOptions().WithPolicy(policy).WithMinFillDelta(cfg.MinFillDelta)
	if policy == strategy.NaiveDarkest {
		opts = opts.WithoutBlur()
	}
	return opts, opts.Validate()
}

// EngineDeps are the collaborators of an engine that the caller owns
type EngineDeps struct {
	Templates    *storage.TemplateFetcher
	SheetChecker engine.SheetChecker
	Publisher    observer.Subject
}

// NewEngine loads the layout and its templates and builds the marking engine
func NewEngine(ctx context.Context, cfg *config.Config, deps EngineDeps) (*engine.Engine, error) {
	l, err := layout.LoadFile(cfg.LayoutFile)
	if err != nil {
		return nil, err
	}
	l = layout.WithTemplates(l, cfg.Templates())

	refs := make(map[string]string, len(l.Papers))
	for _, p := range l.Papers {
		refs[p.Key] = p.Template
	}
	fetchCtx, cancel := context.WithTimeout(ctx, cfg.TemplateTimeout)
	defer cancel()
	templates, err := deps.Templates.LoadTemplates(fetchCtx, refs)
	if err != nil {
		return nil, err
	}
	for paper := range templates {
		logger.WithField("paper", paper).Info("Loaded alignment template")
	}

	markerOpts, err := MarkerOptions(cfg)
	if err != nil {
		return nil, err
	}

	return engine.New(engine.Options{
		Layout:           l,
		Templates:        templates,
		Alignment:        AlignmentOptions(cfg),
		Marker:           markerOpts,
		ConceptThreshold: cfg.ConceptThreshold,
		SheetChecker:     deps.SheetChecker,
		Publisher:        deps.Publisher,
	})
}
