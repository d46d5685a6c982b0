package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	syncengine "dashsync/contexts/data-platform/sync-engine"
	authadapter "dashsync/contexts/data-platform/sync-engine/adapters/auth"
	"dashsync/contexts/data-platform/sync-engine/adapters/memory"
	postgresadapter "dashsync/contexts/data-platform/sync-engine/adapters/postgres"
	redisadapter "dashsync/contexts/data-platform/sync-engine/adapters/redis"
	sqliteadapter "dashsync/contexts/data-platform/sync-engine/adapters/sqlite"
	"dashsync/contexts/data-platform/sync-engine/application/workers"
	"dashsync/contexts/data-platform/sync-engine/ports"
	"dashsync/internal/platform/cache"
	"dashsync/internal/platform/config"
	"dashsync/internal/platform/db"
	"dashsync/internal/platform/httpserver"
	"dashsync/internal/platform/localdb"
	"dashsync/internal/platform/logging"
	"dashsync/internal/platform/messaging"

	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server *httpserver.Server
	engine *engine
	logger *slog.Logger
}

type WorkerApp struct {
	engine *engine
	logger *slog.Logger
}

// engine is the wired module plus the resources it owns and the background
// loops that keep it in sync.
type engine struct {
	module   syncengine.Module
	local    *localdb.SQLite
	postgres *db.Postgres
	redis    *cache.Redis

	bus          *messaging.Bus
	monitor      *workers.ConnectivityMonitor
	drainer      workers.QueueDrainer
	puller       workers.RemotePuller
	pollInterval time.Duration
	autoDrain    bool
	remotePull   bool
	logger       *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.Configure(cfg.LogLevel, cfg.LogFormat).With("service", cfg.ServiceName, "process", "api")
	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	server := httpserver.New(eng.module, logger, normalizeAddr(cfg.HTTPPort), cfg.EnableSwagger)
	return &APIApp{
		server: server,
		engine: eng,
		logger: logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.Configure(cfg.LogLevel, cfg.LogFormat).With("service", cfg.ServiceName, "process", "worker")
	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &WorkerApp{engine: eng, logger: logger}, nil
}

func buildEngine(cfg config.Config, logger *slog.Logger) (*engine, error) {
	local, err := localdb.Open(cfg.LocalStorePath)
	if err != nil {
		return nil, err
	}

	eng := &engine{
		local:        local,
		pollInterval: cfg.PollInterval,
		autoDrain:    cfg.EnableAutoDrain,
		remotePull:   cfg.EnableRemotePull,
		logger:       logger,
	}

	deps := syncengine.Dependencies{
		Local:              sqliteadapter.NewLocalStore(local.DB),
		Auth:               authadapter.ContextAuth{Default: ports.User{ID: strings.TrimSpace(cfg.DefaultUserID)}},
		Clock:              postgresadapter.SystemClock{},
		IDGen:              postgresadapter.UUIDGenerator{},
		ProbeTTL:           cfg.ProbeTTL,
		RemoteTimeout:      cfg.RemoteTimeout,
		ProbeTables:        cfg.ProbeTables,
		MaxLocalValueBytes: cfg.MaxLocalValueBytes,
		MaxReplayAttempts:  cfg.MaxReplayAttempts,
		MaxQueueLength:     cfg.MaxQueueLength,
		Logger:             logger,
	}

	backend := cfg.ResolvedBlobBackend()
	switch backend {
	case config.BlobBackendPostgres:
		pg, err := db.Connect(db.Options{
			DSN:            cfg.PostgresDSN,
			ConnectTimeout: cfg.RemoteTimeout,
		})
		if err != nil {
			_ = eng.close()
			return nil, err
		}
		eng.postgres = pg
		deps.Blobs = postgresadapter.NewBlobStore(pg.DB, logger)
		deps.Records = postgresadapter.NewRecordStore(pg.DB, logger)
	case config.BlobBackendRedis:
		conn, err := cache.Connect(cache.Options{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if conn == nil {
			_ = eng.close()
			return nil, err
		}
		if err != nil {
			// The probe reports the outage and writes queue until Redis is back.
			logger.Warn("redis unreachable at startup, starting degraded",
				"event", "bootstrap_redis_unreachable",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
		eng.redis = conn
		deps.Blobs = redisadapter.NewBlobStore(conn.Client, logger)
	case config.BlobBackendMemory:
		deps.Blobs = memory.NewBlobStore()
		deps.Records = memory.NewRecordStore(cfg.ProbeTables...)
	case config.BlobBackendNone:
	default:
		_ = eng.close()
		return nil, fmt.Errorf("unsupported blob backend %q", backend)
	}

	eng.module = syncengine.NewModule(deps)
	eng.bus = messaging.NewBus(0, logger)
	eng.monitor = &workers.ConnectivityMonitor{
		Status:    eng.module.Persistence,
		Publisher: eng.bus,
		Clock:     deps.Clock,
		Logger:    logger,
	}
	eng.drainer = workers.QueueDrainer{
		Subscriber: eng.bus,
		Data:       eng.module.Data,
		Logger:     logger,
	}
	eng.puller = workers.RemotePuller{
		Persistence: eng.module.Persistence,
		Logger:      logger,
	}

	logger.Info("sync engine wired",
		"event", "bootstrap_engine_wired",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"blob_backend", backend,
		"local_store_path", local.Path,
	)
	return eng, nil
}

// run restores the persisted queue and then polls connectivity and remote
// changes until ctx is cancelled.
func (e *engine) run(ctx context.Context) error {
	restored := e.module.Data.Restore(ctx)
	e.logger.Info("offline queue restored",
		"event", "bootstrap_queue_restored",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"restored_count", restored,
	)

	if e.autoDrain {
		if restored > 0 && e.module.Data.Online() {
			e.module.Data.Drain(ctx)
		}
		if err := e.drainer.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if e.autoDrain {
			if err := e.monitor.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("connectivity check failed",
					"event", "bootstrap_connectivity_check_failed",
					"module", "internal/app/bootstrap",
					"layer", "platform",
					"error", err.Error(),
				)
			}
		}
		if e.remotePull {
			if err := e.puller.RunOnce(ctx); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *engine) close() error {
	var errs []error
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.postgres != nil {
		errs = append(errs, e.postgres.Close())
	}
	if e.local != nil {
		errs = append(errs, e.local.Close())
	}
	return errors.Join(errs...)
}

func (a *APIApp) Run(ctx context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.engine.run(ctx)
	})
	group.Go(func() error {
		return a.server.Run(ctx)
	})
	return group.Wait()
}

func (a *APIApp) Close() error {
	if a.engine != nil {
		return a.engine.close()
	}
	return nil
}

// Run keeps the local store in sync without serving HTTP.
func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.engine.pollInterval.String(),
	)
	return w.engine.run(ctx)
}

func (w *WorkerApp) Close() error {
	if w.engine != nil {
		return w.engine.close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
