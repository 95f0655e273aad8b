package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	httpapp "authsvc/internal/app/http"
	"authsvc/internal/config"
	"authsvc/internal/http/handlers/users"
	"authsvc/internal/lib/jwt"
	"authsvc/internal/lib/metrics"
	"authsvc/internal/lib/sl"
	"authsvc/internal/media/s3"
	"authsvc/internal/services/auth"
	"authsvc/internal/storage/memory"
	"authsvc/internal/storage/mongodb"
	"authsvc/internal/storage/postgres"
	"authsvc/internal/storage/redis"
	"authsvc/internal/storage/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Store interface {
	auth.UserSaver
	auth.UserProvider
	auth.RefreshTokenStore
}

type App struct {
	HTTPSrv *httpapp.App

	logger  *slog.Logger
	closers []func(ctx context.Context) error
}

// New builds the service from cfg and panics when a dependency cannot be
// set up.
func New(ctx context.Context, logger *slog.Logger, cfg *config.Config) *App {
	a, err := build(ctx, logger, cfg, nil)
	if err != nil {
		panic(err)
	}
	return a
}

func build(ctx context.Context, logger *slog.Logger, cfg *config.Config, uploader auth.Uploader) (*App, error) {
	const op = "app.build"

	a := &App{logger: logger}

	store, err := a.openStorage(ctx, cfg.Storage)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if uploader == nil {
		uploader, err = s3.New(ctx, logger, s3.Config{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Bucket:       cfg.S3.Bucket,
			PublicURL:    cfg.S3.PublicURL,
			UsePathStyle: cfg.S3.UsePathStyle,
			KeyPrefix:    cfg.S3.KeyPrefix,
		})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	encoder, err := jwt.NewEncoder(jwt.Config{
		Access:  jwt.ClassConfig{Secret: cfg.Auth.AccessSecret, TTL: cfg.Auth.AccessTTL},
		Refresh: jwt.ClassConfig{Secret: cfg.Auth.RefreshSecret, TTL: cfg.Auth.RefreshTTL},
		Issuer:  cfg.Auth.Issuer,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	authService := auth.New(logger, store, store, store, encoder, uploader, m)

	usersHandler := users.New(logger, authService, users.Config{
		Cookies: users.CookieConfig{
			Secure:   cfg.Auth.CookieSecure,
			Domain:   cfg.Auth.CookieDomain,
			SameSite: http.SameSiteLaxMode,
		},
		UploadDir:     cfg.Upload.Dir,
		MaxUploadSize: cfg.Upload.MaxSize,
	})

	a.HTTPSrv = httpapp.New(logger, httpapp.Config{
		Address:      cfg.HTTP.Address,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, usersHandler, authService, m, registry)

	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	const op = "app.openStorage"
	log := a.logger.With(slog.String("op", op), slog.String("driver", cfg.Driver))

	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o750); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		if err := s.Migrate(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("storage ready", slog.String("path", cfg.SQLite.Path))
		return s, nil

	case "mongodb":
		s, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, s.Close)
		log.Info("storage ready", slog.String("database", cfg.Mongo.Database))
		return s, nil

	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			URL:             cfg.Postgres.URL,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			QueryTimeout:    cfg.Postgres.QueryTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, func(context.Context) error { s.Close(); return nil })
		log.Info("storage ready")
		return s, nil

	case "redis":
		rdb, err := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		log.Info("storage ready", slog.String("addr", cfg.Redis.Addr))
		return redis.New(rdb, cfg.Redis.Prefix), nil

	case "memory":
		log.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	}

	return nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Driver)
}

// Close releases storage connections in reverse order of opening.
func (a *App) Close(ctx context.Context) {
	const op = "app.Close"
	log := a.logger.With(slog.String("op", op))

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil

	if err := errors.Join(errs...); err != nil {
		log.Error("failed to close storage", sl.Err(err))
	}
}
