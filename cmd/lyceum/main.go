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
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/lyceum-app/lyceum/internal/api"
	"github.com/lyceum-app/lyceum/internal/app"
	"github.com/lyceum-app/lyceum/internal/audit"
	"github.com/lyceum-app/lyceum/internal/blob"
	doccache "github.com/lyceum-app/lyceum/internal/cache"
	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/dualwrite"
	"github.com/lyceum-app/lyceum/internal/identity"
	"github.com/lyceum-app/lyceum/internal/observability"
	platformcache "github.com/lyceum-app/lyceum/internal/platform/cache"
	"github.com/lyceum-app/lyceum/internal/platform/db"
	"github.com/lyceum-app/lyceum/internal/policy"
	"github.com/lyceum-app/lyceum/internal/store"
	"github.com/lyceum-app/lyceum/jobs"
)

func main() {
	if app.InTestMode() {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("connect job queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = jobsClient.Close() }()

	engine := policy.NewEngine()
	pg := store.NewPostgres(pool)
	resolver := identity.NewResolver(pg)
	guarded := store.NewGuarded(pg, engine, resolver)

	metrics := observability.NewMetrics()
	trail := audit.NewPG(pool)
	coordinator := dualwrite.NewCoordinator(
		guarded,
		doccache.NewLRU(cfg.CacheCapacity, cfg.CacheTTL),
		engine,
		trail,
		logger,
		dualwrite.Config{
			CacheTTL: cfg.CacheTTL,
			Metrics:  metrics,
			OnResult: func(id string, res dualwrite.Result, err error) {
				if err != nil {
					logger.Warn("replayed write settled with failure",
						slog.String("write_id", id),
						slog.String("state", res.State.String()),
						slog.Any("error", err))
					return
				}
				logger.Info("replayed write committed", slog.String("write_id", id))
			},
		},
	)

	var blobs blob.Store
	if cfg.BlobBucket != "" {
		gcs, err := blob.NewGCS(ctx, cfg.BlobBucket, cfg.BlobCredentialsFile)
		if err != nil {
			logger.Error("connect blob bucket", slog.Any("error", err))
			os.Exit(1)
		}
		blobs = gcs
	} else {
		logger.Warn("BLOB_BUCKET unset, attachments are held in memory")
		blobs = blob.NewMemory()
	}

	sessions := identity.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	login := identity.NewLoginService(identity.NewPGCredentials(pool), resolver)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		Resolver:       resolver,
		AuthHandler:    identity.NewHandler(logger, login, sessions),
		APIHandler:     api.NewHandler(logger, coordinator, audit.NewService(trail, engine), blob.NewService(blobs, pg, engine)),
		JobsHandler:    jobs.NewHandler(asynq.NewInspector(redisOpts), logger),
		Metrics:        metrics,
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	// The offline queue lives in this process, so the replay handler has to
	// run here too. The worker shares the process with the HTTP server.
	replayTask, err := jobs.NewSyncReplayTask(jobs.SyncReplayPayload{Reason: "scheduled"})
	if err != nil {
		logger.Error("build replay task", slog.Any("error", err))
		os.Exit(1)
	}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSyncReplay, Handler: jobs.NewSyncReplayHandler(coordinator, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every 5m", Task: replayTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("worker: %w", err)
		}
		return nil
	})

	for _, collection := range core.Collections() {
		collection := collection
		g.Go(func() error {
			if err := coordinator.Relay(gctx, collection); err != nil {
				logger.Warn("change relay unavailable",
					slog.String("collection", collection.String()), slog.Any("error", err))
			}
			return nil
		})
	}

	// Parked writes trigger a replay through the queue so retries get
	// asynq's backoff instead of a busy loop.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ReplayInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if coordinator.Online() && coordinator.QueueLen() == 0 {
					continue
				}
				if _, err := jobsClient.EnqueueSyncReplay(gctx, jobs.SyncReplayPayload{Reason: "queued writes pending"}); err != nil {
					logger.Warn("enqueue replay", slog.Any("error", err))
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shutdown", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
