package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/climate-atlas/boundary-api/internal/geo"
	"github.com/climate-atlas/boundary-api/internal/handlers"
	"github.com/climate-atlas/boundary-api/internal/platform/chunkstore"
	"github.com/climate-atlas/boundary-api/internal/platform/config"
	pfirestore "github.com/climate-atlas/boundary-api/internal/platform/firestore"
	"github.com/climate-atlas/boundary-api/internal/platform/jobs"
	"github.com/climate-atlas/boundary-api/internal/platform/observability"
	"github.com/climate-atlas/boundary-api/internal/repositories"
	firestoreRepo "github.com/climate-atlas/boundary-api/internal/repositories/firestore"
	"github.com/climate-atlas/boundary-api/internal/services"
)

const (
	sessionSweepInterval   = 5 * time.Minute
	sessionCreateRateLimit = 30
	sessionCreateWindow    = time.Minute
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	store, storeCheck, closeStore, err := newChunkStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise chunk store", zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("chunk store close error", zap.Error(err))
		}
	}()

	boundaryRepo, err := firestoreRepo.NewBoundaryRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise boundary repository", zap.Error(err))
	}

	eventLogger := func(name string) func(context.Context, string, map[string]any) {
		named := logger.Named(name)
		return func(ctx context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields)+1)
			zFields = append(zFields, zap.String("event", event))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			named.Debug("event", zFields...)
		}
	}

	loader, err := services.NewBoundaryPayloadLoader(services.BoundaryPayloadLoaderDeps{
		Store:  store,
		Logger: eventLogger("boundary_loader"),
	})
	if err != nil {
		logger.Fatal("failed to initialise payload loader", zap.Error(err))
	}

	maskBuilder := geo.NewMaskBuilder(geo.MaskBuilderDeps{
		Union:  geo.NewPolygonUnion(),
		Logger: eventLogger("mask"),
	})
	cache, err := services.NewBoundaryCache(services.BoundaryCacheDeps{
		Masks:  maskBuilder,
		Logger: eventLogger("boundary_cache"),
	})
	if err != nil {
		logger.Fatal("failed to initialise boundary cache", zap.Error(err))
	}

	var pubsubClient *pubsub.Client
	var publisher services.InvalidationPublisher
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" && cfg.PubSub.InvalidationTopic != "" {
		pubsubClient, err = pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err = jobs.NewPubSubInvalidationPublisher(pubsubClient.Topic(cfg.PubSub.InvalidationTopic))
		if err != nil {
			logger.Fatal("failed to initialise invalidation publisher", zap.Error(err))
		}
	}

	boundaryService, err := services.NewBoundaryService(services.BoundaryServiceDeps{
		Repository: boundaryRepo,
		Loader:     loader,
		Cache:      cache,
		Publisher:  publisher,
		Clock:      time.Now,
		Logger:     eventLogger("boundary"),
	})
	if err != nil {
		logger.Fatal("failed to initialise boundary service", zap.Error(err))
	}

	drillController, err := services.NewDrillController(services.DrillControllerDeps{
		Masks:   maskBuilder,
		Padding: cfg.Map.DrillPadding,
		MinZoom: cfg.Map.MinZoom,
		MaxZoom: cfg.Map.DrillMaxZoom,
		Clock:   time.Now,
		Logger:  eventLogger("drill"),
	})
	if err != nil {
		logger.Fatal("failed to initialise drill controller", zap.Error(err))
	}

	sessionService, err := services.NewSessionService(services.SessionServiceDeps{
		Boundaries:        boundaryService,
		Drill:             drillController,
		AnimationDuration: cfg.Map.AnimationDuration,
		MinZoom:           cfg.Map.MinZoom,
		MaxZoom:           cfg.Map.MaxZoom,
		FitPadding:        cfg.Map.FitPadding,
		TTL:               cfg.Sessions.TTL,
		Clock:             time.Now,
		Logger:            eventLogger("session"),
	})
	if err != nil {
		logger.Fatal("failed to initialise session service", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreClient, storeCheck, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup

	backgroundWG.Add(1)
	go func() {
		defer backgroundWG.Done()
		sweepLogger := logger.Named("session")
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := sessionService.SweepExpired(); removed > 0 {
					sweepLogger.Info("expired sessions removed", zap.Int("count", removed))
				}
			case <-backgroundCtx.Done():
				return
			}
		}
	}()

	if pubsubClient != nil && strings.TrimSpace(cfg.PubSub.InvalidationSubscription) != "" {
		sub := pubsubClient.Subscription(cfg.PubSub.InvalidationSubscription)
		invalidationLogger := logger.Named("invalidation")
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			err := jobs.RunInvalidationSubscriber(backgroundCtx, sub, func(ctx context.Context, event services.BoundaryInvalidationMessage) {
				boundaryService.Invalidate(ctx, event.Country)
				if event.DataKey != "" {
					loader.Forget(event.DataKey)
				}
				invalidationLogger.Info("boundary invalidated",
					zap.String("country", event.Country),
					zap.String("reason", event.Reason),
				)
			})
			if err != nil {
				invalidationLogger.Error("invalidation subscriber stopped", zap.Error(err))
			}
		}()
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(systemService)),
		handlers.WithBoundaryRoutes(handlers.NewBoundaryHandlers(boundaryService).Routes),
		handlers.WithSessionRoutes(handlers.NewSessionHandlers(sessionService, sessionCreateRateLimit, sessionCreateWindow).Routes),
	}
	if key := strings.TrimSpace(cfg.Server.MaintenanceKey); key != "" {
		routerOpts = append(routerOpts,
			handlers.WithInternalRoutes(handlers.NewMaintenanceHandlers(boundaryService, sessionService).Routes),
			handlers.WithInternalMiddlewares(handlers.MaintenanceKeyMiddleware(key)),
		)
	} else {
		logger.Info("maintenance key not configured; internal routes disabled")
	}

	router := handlers.NewRouter(routerOpts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("boundary api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newChunkStore builds the configured chunk store backend plus a health probe
// for it and a close function.
func newChunkStore(ctx context.Context, cfg config.Config) (chunkstore.Store, repositories.DependencyCheck, func() error, error) {
	noopClose := func() error { return nil }

	switch cfg.Chunks.Backend {
	case "memory":
		store := chunkstore.NewMemoryStore()
		check := repositories.DependencyCheck{
			Name:  "chunk_store",
			Check: func(context.Context) error { return nil },
		}
		return store, check, noopClose, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := chunkstore.NewRedisStore(client, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, repositories.DependencyCheck{}, noopClose, err
		}
		check := repositories.DependencyCheck{
			Name:    "chunk_store",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		}
		return store, check, client.Close, nil

	case "gcs":
		client, err := cloudstorage.NewClient(ctx)
		if err != nil {
			return nil, repositories.DependencyCheck{}, noopClose, err
		}
		store, err := chunkstore.NewGCSStore(client, cfg.Storage.BoundariesBucket, cfg.Storage.BoundariesPrefix)
		if err != nil {
			_ = client.Close()
			return nil, repositories.DependencyCheck{}, noopClose, err
		}
		bucket := client.Bucket(cfg.Storage.BoundariesBucket)
		check := repositories.DependencyCheck{
			Name:    "chunk_store",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := bucket.Attrs(ctx)
				return err
			},
		}
		return store, check, client.Close, nil

	default:
		return nil, repositories.DependencyCheck{}, noopClose, fmt.Errorf("unsupported chunk backend %q", cfg.Chunks.Backend)
	}
}

func newSystemService(client *firestore.Client, storeCheck repositories.DependencyCheck, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if storeCheck.Check != nil {
		checks = append(checks, storeCheck)
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildInfoFromEnv(started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("ATLAS_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("ATLAS_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("ATLAS_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.PubSub.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
