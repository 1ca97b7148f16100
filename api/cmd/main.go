package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/application/history"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/config"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/idgen"
	rediscache "github.com/baechuer/real-time-ressys/services/history-service/internal/infrastructure/caching/redis"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/infrastructure/db/postgres"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/infrastructure/messaging/rabbitmq"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/scheduler"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/security"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/handlers"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/router"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/worker"
)

// sysClock implements history.Clock using system time
type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now().UTC() }

// App holds all dependencies for the service
type App struct {
	Config *config.Config
	Server *http.Server
	DB     *sql.DB
	Redis  *rediscache.Client

	Service  *history.Service
	Sync     *scheduler.Scheduler
	Jobs     *worker.Pool
	Consumer *rabbitmq.LoginConsumer
}

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if u, err := url.Parse(cfg.DatabaseURL); err == nil {
		zlog.Info().
			Str("db_user", u.User.Username()).
			Str("db_host", u.Host).
			Str("db_db", u.Path).
			Msg("db config loaded")
	}

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("db open failed")
	}
	defer db.Close()

	if cfg.DBAutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := postgres.EnsureSchema(ctx, db)
		cancel()
		if err != nil {
			zlog.Fatal().Err(err).Msg("schema migration failed")
		}
	}

	rc, err := rediscache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		zlog.Fatal().Err(err).Msg("redis connect failed")
	}
	defer rc.Close()

	app, err := NewApp(cfg, db, rc)
	if err != nil {
		zlog.Fatal().Err(err).Msg("app init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("app start failed")
	}

	go func() {
		zlog.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("server crashed")
		}
	}()

	<-ctx.Done()
	zlog.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("http shutdown")
	}
	// pending views are still written before the stores close
	app.Jobs.Stop()
}

func NewApp(cfg *config.Config, db *sql.DB, rc *rediscache.Client) (*App, error) {
	// 1) Infrastructure
	repo := postgres.New(db)
	fast := rediscache.NewHistoryStore(rc)

	ids, err := idgen.NewSnowflake(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	// 2) Application
	svc := history.New(fast, repo, repo, ids, sysClock{}, history.Options{
		KeyPrefix:       cfg.HistoryKeyPrefix,
		TTL:             cfg.HistoryTTL,
		FastTimeout:     cfg.FastStoreTimeout,
		DurableTimeout:  cfg.DurableStoreTimeout,
		PageSizeDefault: cfg.PageSizeDefault,
		PageSizeMax:     cfg.PageSizeMax,
	})

	sync := scheduler.New("history_sync", cfg.SyncInterval,
		func(ctx context.Context) error { return svc.SyncAll(ctx).Err },
		scheduler.WithInitialDelay(cfg.SyncInitialDelay),
	)
	jobs := worker.NewPool(cfg.RecordWorkers, cfg.RecordQueue)

	var consumer *rabbitmq.LoginConsumer
	if cfg.RabbitURL != "" {
		consumer = rabbitmq.NewLoginConsumer(cfg.RabbitURL, cfg.RabbitExchange, cfg.RabbitQueue, svc)
	} else {
		zlog.Warn().Msg("RABBIT_URL empty: fingerprints are linked only through the internal API")
	}

	// 3) Transport
	var trigger handlers.SyncTrigger
	if cfg.SyncEnabled {
		trigger = sync
	}
	h := handlers.NewHistoryHandler(svc, jobs, trigger)
	z := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"redis":    rc,
		"postgres": repo,
	})
	verifier := security.NewHS256Verifier(cfg.JWTSecret, cfg.JWTIssuer)

	// 4) Router
	httpHandler := router.New(h, z, verifier, cfg)

	// 5) Server
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &App{
		Config:   cfg,
		Server:   srv,
		DB:       db,
		Redis:    rc,
		Service:  svc,
		Sync:     sync,
		Jobs:     jobs,
		Consumer: consumer,
	}, nil
}

// Start launches the background loops. They stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if a.Config.SyncEnabled {
		go a.Sync.Run(ctx)
		zlog.Info().
			Dur("interval", a.Config.SyncInterval).
			Dur("initial_delay", a.Config.SyncInitialDelay).
			Msg("history sync scheduled")
	} else {
		zlog.Warn().Msg("SYNC_ENABLED=false: fast-tier views expire without reaching postgres")
	}

	if a.Consumer != nil {
		if err := a.Consumer.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}
