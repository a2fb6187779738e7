package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/watchparty/internal/api/http"
	"github.com/immxrtalbeast/watchparty/internal/cache"
	"github.com/immxrtalbeast/watchparty/internal/config"
	"github.com/immxrtalbeast/watchparty/internal/provider/gif"
	"github.com/immxrtalbeast/watchparty/internal/provider/tmdb"
	"github.com/immxrtalbeast/watchparty/internal/repository"
	"github.com/immxrtalbeast/watchparty/internal/repository/model"
	"github.com/immxrtalbeast/watchparty/internal/service"
	"github.com/immxrtalbeast/watchparty/internal/transport"
	"github.com/immxrtalbeast/watchparty/lib/logger/sl"
	"github.com/immxrtalbeast/watchparty/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userRepo, err := setupUserRepository(cfg.Database, log)
	if err != nil {
		log.Error("failed to connect database", sl.Err(err))
		os.Exit(1)
	}

	responseCache, closeCache, err := setupCache(ctx, cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect redis", sl.Err(err))
		os.Exit(1)
	}
	defer closeCache()

	catalog := tmdb.NewClient(cfg.Providers.TMDBKey, cfg.Providers.TMDBURL, responseCache, log)
	reactions := gif.NewService(log, responseCache, gifSources(cfg.Providers)...)

	sessionRepo := repository.NewInMemorySessionRepository()
	bus := transport.NewBus(log)

	userService := service.NewUserService(userRepo, log)
	sessionService := service.NewSessionService(sessionRepo, bus, log,
		service.WithContentResolver(catalog),
		service.WithOpenTimeout(cfg.Sync.OpenTimeout),
	)
	defer sessionService.Close()

	settings := httpapi.ClientSettings{
		ICEServers:     transport.ICEConfiguration(cfg.WebRTC.STUNServers).ICEServers,
		DriftThreshold: cfg.Sync.DriftThreshold.Seconds(),
		PushInterval:   cfg.Sync.PushInterval.Seconds(),
	}
	router := httpapi.SetupRouter(cfg.HTTP.AllowOrigins,
		httpapi.NewSessionController(sessionService, userService, settings, log),
		httpapi.NewUserController(userService),
		httpapi.NewContentController(reactions, catalog),
	)

	srv := &http.Server{
		Addr:        cfg.HTTP.Address,
		Handler:     router,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout: cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting application", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("http server stopped", sl.Err(err))
		os.Exit(1)
	}
	log.Info("application stopped")
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func setupUserRepository(cfg config.DatabaseConfig, log *slog.Logger) (repository.UserRepository, error) {
	if cfg.DSN == "" {
		log.Info("database dsn is empty, keeping users in memory")
		return repository.NewInMemoryUserRepository(), nil
	}

	db, err := connectDatabase(cfg)
	if err != nil {
		return nil, err
	}
	return repository.NewPostgresUserRepository(db), nil
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&model.User{}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

func setupCache(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (cache.Cache, func(), error) {
	if cfg.URL == "" {
		log.Info("redis url is empty, caching provider responses in memory")
		return cache.NewMemoryCache(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	return cache.NewRedisCache(rdb, cfg.Prefix), func() { _ = rdb.Close() }, nil
}

func gifSources(cfg config.ProvidersConfig) []gif.Source {
	var sources []gif.Source
	if cfg.TenorKey != "" {
		sources = append(sources, gif.NewTenorClient(cfg.TenorKey, cfg.TenorClientKey, cfg.TenorURL))
	}
	if cfg.GiphyKey != "" {
		sources = append(sources, gif.NewGiphyClient(cfg.GiphyKey, cfg.GiphyURL))
	}
	return sources
}
