package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Backend names accepted by RECORD_STORE, ASSET_STORE and DRAFT_STORE.
const (
	StoreMemory     = "memory"
	StoreMongo      = "mongo"
	StorePostgres   = "postgres"
	StoreFilesystem = "filesystem"
	StoreGridFS     = "gridfs"
	StoreSQLite     = "sqlite"
	StoreRedis      = "redis"
)

// Span exporters accepted by OTEL_TRACES_EXPORTER.
const (
	TracesNone   = "none"
	TracesOTLP   = "otlp"
	TracesStdout = "stdout"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64

	// Record store.
	RecordStore   string
	MongoURI      string
	MongoDatabase string
	PostgresURL   string

	// Attachment storage.
	AssetStore   string
	AssetDir     string
	AssetBaseURL string

	// Offline draft storage.
	DraftStore      string
	DraftSQLitePath string
	RedisURL        string

	// Duplicate detection.
	DuplicateRadiusMeters   float64
	DuplicateWindow         time.Duration
	DuplicateCandidateLimit int
	DuplicateCheckTimeout   time.Duration

	// Connectivity probing against the record store.
	ConnectivityProbeInterval time.Duration
	ConnectivityProbeTimeout  time.Duration

	// Domain events.
	EventsEnabled    bool
	KafkaBrokers     []string
	KafkaEventsTopic string
	EventBufferSize  int

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Tracing. The OTLP exporter reads its endpoint and headers from the
	// standard OTEL_EXPORTER_OTLP_* variables.
	TracesExporter    string
	OTLPEndpoint      string
	TracesSampleRatio float64
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		RecordStore:   sharedcfg.EnvOrDefault("RECORD_STORE", StoreMemory),
		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: sharedcfg.EnvOrDefault("MONGODB_DATABASE", "civicfix"),
		PostgresURL:   os.Getenv("POSTGRES_URL"),

		AssetStore:   sharedcfg.EnvOrDefault("ASSET_STORE", StoreFilesystem),
		AssetDir:     sharedcfg.EnvOrDefault("ASSET_DIR", "./data/assets"),
		AssetBaseURL: sharedcfg.EnvOrDefault("ASSET_BASE_URL", "/assets"),

		DraftStore:      sharedcfg.EnvOrDefault("DRAFT_STORE", StoreSQLite),
		DraftSQLitePath: sharedcfg.EnvOrDefault("DRAFT_SQLITE_PATH", "./data/drafts.db"),
		RedisURL:        os.Getenv("REDIS_URL"),

		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaEventsTopic: sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "civicfix-events"),
		EventsEnabled:    sharedcfg.EnvOrDefault("EVENTS_ENABLED", "false") == "true",

		MapboxCacheSize: parsePositiveInt("MAPBOX_CACHE_SIZE", 1000),
	}

	durations := []struct {
		env string
		def string
		dst *time.Duration
	}{
		{"MAPBOX_TIMEOUT", "5s", &cfg.MapboxTimeout},
		{"DUPLICATE_WINDOW", "60m", &cfg.DuplicateWindow},
		{"DUPLICATE_CHECK_TIMEOUT", "3s", &cfg.DuplicateCheckTimeout},
		{"CONNECTIVITY_PROBE_INTERVAL", "15s", &cfg.ConnectivityProbeInterval},
		{"CONNECTIVITY_PROBE_TIMEOUT", "2s", &cfg.ConnectivityProbeTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(sharedcfg.EnvOrDefault(d.env, d.def))
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid %s", d.env)
		}
		*d.dst = v
	}

	radius, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("DUPLICATE_RADIUS_METERS", "60"), 64)
	if err != nil || radius <= 0 {
		return nil, errors.New("invalid DUPLICATE_RADIUS_METERS")
	}
	cfg.DuplicateRadiusMeters = radius

	if cfg.DuplicateCandidateLimit, err = parseStrictPositiveInt("DUPLICATE_CANDIDATE_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.EventBufferSize, err = parseStrictPositiveInt("EVENT_BUFFER_SIZE", 256); err != nil {
		return nil, err
	}
	maxUpload, err := parseStrictPositiveInt("MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	cfg.MapboxToken = os.Getenv("MAPBOX_TOKEN")
	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		cfg.MapboxEnabled = v == "true"
	}

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.TracesExporter = TracesNone
	if cfg.OTLPEndpoint != "" {
		cfg.TracesExporter = TracesOTLP
	}
	if v := os.Getenv("OTEL_TRACES_EXPORTER"); v != "" {
		cfg.TracesExporter = v
	}
	ratio, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("OTEL_TRACES_SAMPLER_ARG", "1"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return nil, errors.New("invalid OTEL_TRACES_SAMPLER_ARG")
	}
	cfg.TracesSampleRatio = ratio

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.RecordStore {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("RECORD_STORE is mongo but MONGODB_URI is not set")
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			return errors.New("RECORD_STORE is postgres but POSTGRES_URL is not set")
		}
	default:
		return fmt.Errorf("invalid RECORD_STORE %q", c.RecordStore)
	}

	switch c.AssetStore {
	case StoreFilesystem:
		if c.AssetDir == "" {
			return errors.New("ASSET_DIR is required")
		}
	case StoreGridFS:
		if c.MongoURI == "" {
			return errors.New("ASSET_STORE is gridfs but MONGODB_URI is not set")
		}
	default:
		return fmt.Errorf("invalid ASSET_STORE %q", c.AssetStore)
	}

	switch c.DraftStore {
	case StoreMemory:
	case StoreSQLite:
		if c.DraftSQLitePath == "" {
			return errors.New("DRAFT_SQLITE_PATH is required")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("DRAFT_STORE is redis but REDIS_URL is not set")
		}
	default:
		return fmt.Errorf("invalid DRAFT_STORE %q", c.DraftStore)
	}

	if c.EventsEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when EVENTS_ENABLED is true")
		}
		if c.KafkaEventsTopic == "" {
			return errors.New("KAFKA_EVENTS_TOPIC is required when EVENTS_ENABLED is true")
		}
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	switch c.TracesExporter {
	case TracesNone, TracesOTLP, TracesStdout:
	default:
		return fmt.Errorf("invalid OTEL_TRACES_EXPORTER %q", c.TracesExporter)
	}
	return nil
}

func parsePositiveInt(env string, def int) int {
	if s := os.Getenv(env); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func parseStrictPositiveInt(env string, def int) (int, error) {
	s := os.Getenv(env)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", env)
	}
	return n, nil
}
