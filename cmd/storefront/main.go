package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/illmade-knight/go-storefront/pkg/cache"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
	"github.com/illmade-knight/go-storefront/pkg/config"
	"github.com/illmade-knight/go-storefront/pkg/currency"
	"github.com/illmade-knight/go-storefront/pkg/media"
	"github.com/illmade-knight/go-storefront/pkg/microservice"
	"github.com/illmade-knight/go-storefront/pkg/querycache"
	"github.com/illmade-knight/go-storefront/pkg/storefront"
	"github.com/illmade-knight/go-storefront/pkg/storefront/httpapi"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("STOREFRONT_CONFIG"), "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storefront: %v\n", err)
		return 1
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start storefront.")
		app.shutdown(logger)
		return 1
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")
	app.shutdown(logger)
	return 0
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()
	if err != nil {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info.")
	}
	return logger
}

// app holds everything that needs stopping, in reverse start order.
type app struct {
	closers []func(ctx context.Context) error
}

func (a *app) onShutdown(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *app) shutdown(logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Error().Err(err).Msg("Error during shutdown.")
		}
	}
	logger.Info().Msg("Storefront stopped.")
}

func noErr(fn func()) func(context.Context) error {
	return func(context.Context) error {
		fn()
		return nil
	}
}

func build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	var gcpOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		gcpOpts = append(gcpOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	// Shared catalog cache and cross-replica revalidation.
	var (
		shared      cache.Cache[string, []byte]
		publisher   cache.InvalidationPublisher
		focus       querycache.FocusSource
		revalidate  func()
		revalidator *cache.RedisRevalidator
	)
	if cfg.Redis.Enabled() {
		rdb, err := cache.NewRedisClient(startCtx, &cfg.Redis.RedisConfig, logger)
		if err != nil {
			return a, err
		}
		a.onShutdown(func(context.Context) error { return rdb.Close() })

		if shared, err = cache.NewRedisCache[string, []byte](rdb, cfg.Redis.Namespace+":catalog", cfg.Redis.CacheTTL, logger, nil); err != nil {
			return a, err
		}
		origin := fmt.Sprintf("%s-%s", hostname(), uuid.NewString()[:8])
		if revalidator, err = cache.NewRedisRevalidator(rdb, cfg.Redis.RevalidateChannel, origin, logger); err != nil {
			return a, err
		}
		publisher, focus = revalidator, revalidator
	} else {
		lru, err := cache.NewLRU[string, []byte](cfg.Catalog.LocalCacheSize, cfg.Catalog.LocalCacheTTL, nil)
		if err != nil {
			return a, err
		}
		shared = lru
		local := querycache.NewSignal()
		focus, revalidate = local, local.Notify
	}

	repo, err := buildRepository(startCtx, cfg, gcpOpts, logger, a)
	if err != nil {
		return a, err
	}
	catalogService, err := catalog.NewService(cfg.Catalog.Service, repo, shared, publisher, logger)
	if err != nil {
		return a, err
	}
	a.onShutdown(func(context.Context) error { return catalogService.Close() })

	deps := storefront.Deps{Catalog: catalogService, Revalidate: revalidate}
	if err := buildAnalytics(ctx, startCtx, cfg, gcpOpts, logger, a, &deps); err != nil {
		return a, err
	}
	if cfg.Currency.Enabled {
		httpClient := &http.Client{Timeout: 5 * time.Second}
		if deps.Converter, err = currency.NewConverter(cfg.Currency.Config,
			currency.NewHTTPGeolocator(cfg.Currency.GeoURL, httpClient),
			currency.NewHTTPRateProvider(cfg.Currency.RatesURL, httpClient),
			logger); err != nil {
			return a, err
		}
	}
	if cfg.Media.Enabled {
		gcs, err := storage.NewClient(startCtx, gcpOpts...)
		if err != nil {
			return a, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.onShutdown(func(context.Context) error { return gcs.Close() })
		images, err := media.NewImageStore(media.NewGCSClientAdapter(gcs), cfg.Media.GCS, logger)
		if err != nil {
			return a, err
		}
		deps.Images = images
	}

	queryClient := querycache.NewClient(cfg.Query, focus, logger)
	sf, err := storefront.New(cfg.Storefront, queryClient, deps, logger)
	if err != nil {
		return a, err
	}
	a.onShutdown(noErr(sf.Close))

	if revalidator != nil {
		revalidator.OnInvalidate(sf.HandleInvalidation)
		if err := revalidator.Start(ctx); err != nil {
			return a, err
		}
		a.onShutdown(func(context.Context) error { return revalidator.Stop() })
	}

	api, err := httpapi.New(cfg.API, sf, logger)
	if err != nil {
		return a, err
	}
	server := microservice.NewBaseServer(logger, cfg.HTTPPort)
	api.Register(server.Mux())
	if err := server.Start(); err != nil {
		return a, err
	}
	a.onShutdown(server.Shutdown)

	logger.Info().
		Str("catalog_backend", cfg.Catalog.Backend).
		Bool("redis", cfg.Redis.Enabled()).
		Bool("analytics", cfg.Analytics.Enabled).
		Bool("media", cfg.Media.Enabled).
		Bool("currency", cfg.Currency.Enabled).
		Str("http_port", server.GetHTTPPort()).
		Msg("Storefront started.")
	return a, nil
}

func buildRepository(ctx context.Context, cfg *config.Config, opts []option.ClientOption, logger zerolog.Logger, a *app) (catalog.Repository, error) {
	if cfg.Catalog.Backend == config.BackendFirestore {
		client, err := firestore.NewClient(ctx, cfg.Catalog.Firestore.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.onShutdown(func(context.Context) error { return client.Close() })
		return catalog.NewFirestoreRepository(&cfg.Catalog.Firestore, client, logger)
	}

	var seed []catalog.Product
	if cfg.Catalog.SeedFile != "" {
		data, err := os.ReadFile(cfg.Catalog.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
		if err := json.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("failed to parse seed file: %w", err)
		}
	}
	logger.Info().Int("product_count", len(seed)).Msg("Using in-memory catalog.")
	return catalog.NewMemoryRepository(seed...), nil
}

// buildAnalytics wires the event pipeline. Without Pub/Sub, events stay in
// memory and the dashboard summarizes them directly.
func buildAnalytics(ctx, startCtx context.Context, cfg *config.Config, opts []option.ClientOption, logger zerolog.Logger, a *app, deps *storefront.Deps) error {
	if !cfg.Analytics.Enabled {
		tracker := analytics.NewMemoryTracker()
		deps.Tracker, deps.Reporter = tracker, tracker
		return nil
	}

	psClient, err := pubsub.NewClient(startCtx, cfg.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pubsub client: %w", err)
	}
	a.onShutdown(func(context.Context) error { return psClient.Close() })

	tracker, err := analytics.NewPubsubTracker(startCtx, psClient, cfg.Analytics.TopicID, logger)
	if err != nil {
		return err
	}
	a.onShutdown(tracker.Stop)
	deps.Tracker = tracker

	bq, err := analytics.NewBigQueryClient(startCtx, &cfg.Analytics.BigQuery, logger)
	if err != nil {
		return err
	}
	a.onShutdown(func(context.Context) error { return bq.Close() })
	if deps.Reporter, err = analytics.NewBigQueryReporter(bq, &cfg.Analytics.BigQuery, logger); err != nil {
		return err
	}

	if !cfg.Analytics.IngestEnabled {
		return nil
	}
	warehouse, err := analytics.NewBigQueryInserter(startCtx, bq, &cfg.Analytics.BigQuery, logger)
	if err != nil {
		return err
	}
	inserter := analytics.EventInserter(warehouse)
	if cfg.Analytics.Archive.BucketName != "" {
		gcs, err := storage.NewClient(startCtx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		a.onShutdown(func(context.Context) error { return gcs.Close() })
		archiver, err := analytics.NewGCSArchiver(media.NewGCSClientAdapter(gcs), cfg.Analytics.Archive, logger)
		if err != nil {
			return err
		}
		inserter = analytics.Inserters{warehouse, archiver}
	}
	consumer, err := analytics.NewPubsubConsumer(startCtx, cfg.Analytics.Consumer, psClient, logger)
	if err != nil {
		return err
	}
	ingest, err := analytics.NewIngestService(cfg.Analytics.Ingest, consumer, inserter, logger)
	if err != nil {
		return err
	}
	if err := ingest.Start(ctx); err != nil {
		return err
	}
	a.onShutdown(ingest.Stop)
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "storefront"
	}
	return name
}
