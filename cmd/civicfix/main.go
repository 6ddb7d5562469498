package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/civicfix-service/internal/adapter/filestore"
	"github.com/couchcryptid/civicfix-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/civicfix-service/internal/adapter/kafka"
	"github.com/couchcryptid/civicfix-service/internal/adapter/mapbox"
	"github.com/couchcryptid/civicfix-service/internal/adapter/memory"
	mongoadapter "github.com/couchcryptid/civicfix-service/internal/adapter/mongo"
	"github.com/couchcryptid/civicfix-service/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/civicfix-service/internal/adapter/redis"
	"github.com/couchcryptid/civicfix-service/internal/adapter/sqlite"
	"github.com/couchcryptid/civicfix-service/internal/config"
	"github.com/couchcryptid/civicfix-service/internal/connectivity"
	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/duplicate"
	"github.com/couchcryptid/civicfix-service/internal/events"
	"github.com/couchcryptid/civicfix-service/internal/notify"
	"github.com/couchcryptid/civicfix-service/internal/observability"
	"github.com/couchcryptid/civicfix-service/internal/offline"
	"github.com/couchcryptid/civicfix-service/internal/pipeline"
	"github.com/couchcryptid/civicfix-service/internal/triage"
)

// assetStore is what both the submission path and the asset route need.
type assetStore interface {
	pipeline.AssetStore
	httpadapter.AssetReader
}

// backends holds the selected storage implementations and their teardown.
type backends struct {
	records domain.IssueRepository
	assets  assetStore
	drafts  offline.KV
	closers []func(context.Context) error
}

func (b *backends) onClose(fn func(context.Context) error) {
	b.closers = append(b.closers, fn)
}

func (b *backends) close(ctx context.Context, logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			logger.Error("backend close error", "error", err)
		}
	}
}

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	if cfg.TracesExporter != config.TracesNone {
		logger.Info("tracing enabled", "exporter", cfg.TracesExporter, "sample_ratio", cfg.TracesSampleRatio)
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open backends", "error", err)
		os.Exit(1)
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var sink events.Sink
	var writer *kafkaadapter.Writer
	if cfg.EventsEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		sink = writer
		logger.Info("domain events enabled", "topic", cfg.KafkaEventsTopic, "brokers", cfg.KafkaBrokers)
	}
	emitter := events.NewEmitter(sink, cfg.EventBufferSize, logger, metrics)

	clock := clockwork.NewRealClock()
	monitor := connectivity.NewMonitor(b.records, cfg.ConnectivityProbeInterval, cfg.ConnectivityProbeTimeout, clock, logger, metrics)
	queue := offline.NewQueue(b.drafts, metrics)
	notifier := notify.NewLogNotifier(logger)

	detector := duplicate.NewDetector(b.records, duplicate.Config{
		RadiusMeters:   cfg.DuplicateRadiusMeters,
		Window:         cfg.DuplicateWindow,
		CandidateLimit: cfg.DuplicateCandidateLimit,
	}, clock, logger, metrics)

	submissions := pipeline.New(pipeline.Deps{
		Store:      b.records,
		Assets:     b.assets,
		Duplicates: detector,
		Drafts:     queue,
		Conn:       monitor,
		Events:     emitter,
		Geocoder:   geocoder,
		Notifier:   notifier,
	}, pipeline.Config{DuplicateCheckTimeout: cfg.DuplicateCheckTimeout}, logger, metrics)

	staff := triage.NewService(b.records, b.assets, emitter, notifier, logger, metrics)
	replayer := offline.NewReplayer(queue, submissions, monitor, notifier, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.API{
		Pipeline:       submissions,
		Triage:         staff,
		Duplicates:     detector,
		Drafts:         queue,
		Replayer:       replayer,
		Geocoder:       geocoder,
		Conn:           monitor,
		Assets:         b.assets,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, monitor, logger)

	// Probe once so the first replay and readiness see a real state.
	monitor.Probe(ctx)
	transitions, unsubscribe := monitor.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return emitter.Run(gctx) })
	g.Go(func() error { return replayer.Run(gctx, transitions) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	b.close(closeCtx, logger)
	if err := shutdownTracing(closeCtx); err != nil {
		logger.Error("tracer provider shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	fail := func(err error) (*backends, error) {
		b.close(context.Background(), logger)
		return nil, err
	}

	var mongoDB *mongo.Database
	if cfg.RecordStore == config.StoreMongo || cfg.AssetStore == config.StoreGridFS {
		client, err := mongoadapter.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return fail(err)
		}
		b.onClose(client.Disconnect)
		mongoDB = client.Database(cfg.MongoDatabase)
	}

	switch cfg.RecordStore {
	case config.StoreMongo:
		store := mongoadapter.NewIssueStore(mongoDB, logger)
		if err := store.EnsureIndexes(ctx); err != nil {
			return fail(err)
		}
		b.records = store
	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return fail(err)
		}
		b.onClose(func(context.Context) error { store.Close(); return nil })
		b.records = store
	default:
		b.records = memory.NewIssueStore()
	}

	switch cfg.AssetStore {
	case config.StoreGridFS:
		assets, err := mongoadapter.NewGridFSAssets(mongoDB, cfg.AssetBaseURL)
		if err != nil {
			return fail(err)
		}
		b.assets = assets
	default:
		assets, err := filestore.New(cfg.AssetDir, cfg.AssetBaseURL)
		if err != nil {
			return fail(err)
		}
		b.assets = assets
	}

	switch cfg.DraftStore {
	case config.StoreSQLite:
		kv, err := sqlite.Open(ctx, cfg.DraftSQLitePath)
		if err != nil {
			return fail(err)
		}
		b.onClose(func(context.Context) error { return kv.Close() })
		b.drafts = kv
	case config.StoreRedis:
		kv, err := redisadapter.New(ctx, cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		b.onClose(func(context.Context) error { return kv.Close() })
		b.drafts = kv
	default:
		b.drafts = memory.NewKV()
	}

	logger.Info("backends ready",
		"records", cfg.RecordStore,
		"assets", cfg.AssetStore,
		"drafts", cfg.DraftStore,
	)
	return b, nil
}
