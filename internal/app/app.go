package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/go-chi/httplog/v2"
	"golang.org/x/sync/errgroup"

	api "miniurl/internal/api/http"
	"miniurl/internal/auth"
	"miniurl/internal/cache"
	"miniurl/internal/config"
	dbpostgres "miniurl/internal/database/postgres"
	"miniurl/internal/pubsub"
	"miniurl/internal/service"
	"miniurl/internal/shortcode"
	"miniurl/internal/ws"
	"miniurl/pkg/postgres"
	"miniurl/pkg/redis"
)

// Run wires the application together and blocks until ctx is cancelled
// or a component fails.
func Run(ctx context.Context, cfg *config.Config) error {
	const op = "app.Run"

	logger := setupLogger(cfg.Env)

	db, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN(),
		MigrationsPath:  "file://migrations",
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("%s: failed to set up database: %w", op, err)
	}
	defer db.Close()

	rdb, err := redis.New(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("%s: failed to connect to redis: %w", op, err)
	}
	defer rdb.Close()

	linkRepo := dbpostgres.NewLinkRepository(db, cfg.URL.LockTimeout)
	userRepo := dbpostgres.NewUserRepository(db)

	counter := shortcode.NewCounter(rdb)
	redirectCache := cache.NewRedirectCache(rdb, cfg.URL.CacheExpiry)
	publisher := pubsub.NewPublisher(rdb, cfg.URL.BasePath, logger)

	linkSvc := service.NewLinkService(
		linkRepo, counter, redirectCache, publisher, logger,
		cfg.URL.CreateRetries, cfg.URL.LinkTTL,
	)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authSvc := auth.NewService(userRepo, tokens)

	manager := ws.NewManager(logger, cfg.WebSocket.PingInterval, cfg.WebSocket.PongTimeout)
	prober := ws.NewProber(manager, cfg.WebSocket.PingInterval, logger)
	receiver := pubsub.NewReceiver(rdb, manager, logger)
	wsHandler := ws.NewHandler(manager, tokens, logger)

	httpLogger := httplog.NewLogger("miniurl", httplog.Options{
		LogLevel: logLevel(cfg.Env),
		JSON:     cfg.Env == config.EnvProd,
		Concise:  cfg.Env != config.EnvProd,
	})

	router := api.NewRouter(httpLogger, linkSvc, authSvc, tokens, wsHandler)

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        router,
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return receiver.Run(ctx)
	})

	g.Go(func() error {
		return prober.Run(ctx)
	})

	g.Go(func() error {
		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: server error occurred: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("%s: failed to shutdown server: %w", op, err)
		}

		return nil
	})

	return g.Wait()
}

func setupLogger(env string) *slog.Logger {
	var handler slog.Handler

	switch env {
	case config.EnvProd:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	return slog.New(handler)
}

func logLevel(env string) slog.Level {
	if env == config.EnvProd {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
