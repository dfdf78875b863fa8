package config

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by the store settings.
const (
	StoreNone     = "none"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreLocal    = "local"
	StoreAzure    = "azure"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	TemplateTimeout    time.Duration
	MaxRequestBodySize int64

	// Auth and sessions
	AppPassword  string
	JWTSecret    string
	SessionStore string
	SessionTTL   time.Duration
	RedisAddr    string

	// Marking history
	RecordStore   string
	MongoURI      string
	MongoDatabase string
	PostgresDSN   string

	// Output archives
	ArchiveStore     string
	ArchiveDir       string
	AzureAccountName string
	AzureAccountKey  string
	AzureContainer   string

	// Exam layout and templates
	LayoutFile      string
	TemplateReading string
	TemplateQRAR    string

	// Alignment
	AlignMaxIterations int
	AlignEpsilon       float64
	AlignMaxDimension  int

	// Decision
	MinFillDelta     float64
	SelectionPolicy  string
	ConceptThreshold float64

	BatchWorkers int
	SheetCheck   bool
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// Templates maps paper keys to configured template references.
func (c *Config) Templates() map[string]string {
	return map[string]string{
		"reading": c.TemplateReading,
		"qr_ar":   c.TemplateQRAR,
	}
}

func LoadFromEnv() (*Config, error) {
	// Set defaults
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		TemplateTimeout:    parseDurationOrDefault("TEMPLATE_FETCH_TIMEOUT", 15*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 50*1024*1024), // 50MB

		AppPassword:  os.Getenv("APP_PASSWORD"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		SessionStore: strings.ToLower(getEnvOrDefault("SESSION_STORE", StoreMemory)),
		SessionTTL:   parseDurationOrDefault("SESSION_TTL", 12*time.Hour),
		RedisAddr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),

		RecordStore:   strings.ToLower(getEnvOrDefault("RECORD_STORE", StoreNone)),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getEnvOrDefault("MONGO_DATABASE", "omr"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),

		ArchiveStore:     strings.ToLower(getEnvOrDefault("ARCHIVE_STORE", StoreNone)),
		ArchiveDir:       getEnvOrDefault("ARCHIVE_DIR", "./archives"),
		AzureAccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
		AzureContainer:   getEnvOrDefault("AZURE_CONTAINER", "marking-output"),

		LayoutFile:      os.Getenv("LAYOUT_FILE"),
		TemplateReading: os.Getenv("TEMPLATE_READING"),
		TemplateQRAR:    os.Getenv("TEMPLATE_QR_AR"),

		AlignMaxIterations: int(parseIntOrDefault("ALIGN_MAX_ITERATIONS", 80)),
		AlignEpsilon:       parseFloatOrDefault("ALIGN_EPSILON", 1e-6),
		AlignMaxDimension:  int(parseIntOrDefault("ALIGN_MAX_DIMENSION", 1200)),

		MinFillDelta:     parseFloatOrDefault("MIN_FILL_DELTA", 12.0),
		SelectionPolicy:  strings.ToLower(getEnvOrDefault("SELECTION_POLICY", "strict_margin")),
		ConceptThreshold: parseFloatOrDefault("CONCEPT_THRESHOLD", 51.0),

		BatchWorkers: int(parseIntOrDefault("BATCH_WORKERS", int64(runtime.NumCPU()))),
		SheetCheck:   parseBoolOrDefault("SHEET_CHECK", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and backend settings
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.TemplateTimeout <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, template=%s, session=%s)",
			c.RequestTimeout, c.TemplateTimeout, c.SessionTTL)
	}
	if c.AlignMaxIterations <= 0 || c.AlignEpsilon <= 0 || c.AlignMaxDimension < 0 {
		return fmt.Errorf("invalid alignment settings (iterations=%d, epsilon=%g, max dimension=%d)",
			c.AlignMaxIterations, c.AlignEpsilon, c.AlignMaxDimension)
	}
	if c.MinFillDelta < 0 {
		return fmt.Errorf("MIN_FILL_DELTA must be >= 0 (got %g)", c.MinFillDelta)
	}
	if c.ConceptThreshold <= 0 || c.ConceptThreshold > 100 {
		return fmt.Errorf("CONCEPT_THRESHOLD must be in (0, 100] (got %g)", c.ConceptThreshold)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be > 0 (got %d)", c.BatchWorkers)
	}

	switch c.SessionStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore)
	}
	switch c.RecordStore {
	case StoreNone, StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when RECORD_STORE=mongo")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when RECORD_STORE=postgres")
		}
	default:
		return fmt.Errorf("unsupported RECORD_STORE %q", c.RecordStore)
	}
	switch c.ArchiveStore {
	case StoreNone, StoreLocal:
	case StoreAzure:
		if c.AzureAccountName == "" || c.AzureAccountKey == "" {
			return fmt.Errorf("AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY are required when ARCHIVE_STORE=azure")
		}
	default:
		return fmt.Errorf("unsupported ARCHIVE_STORE %q", c.ArchiveStore)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
