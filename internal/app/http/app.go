package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"authsvc/internal/http/handlers/users"
	mwauth "authsvc/internal/http/middleware/auth"
	mwlogger "authsvc/internal/http/middleware/logger"
	"authsvc/internal/lib/sl"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type App struct {
	logger *slog.Logger
	server *http.Server
}

// New wires the users API, health and metrics endpoints into a gin engine.
func New(
	logger *slog.Logger,
	cfg Config,
	usersHandler *users.Handler,
	authn mwauth.Authenticator,
	observer mwlogger.RequestObserver,
	gatherer prometheus.Gatherer,
) *App {
	router := gin.New()
	router.Use(gin.Recovery(), mwlogger.New(logger, observer))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	usersHandler.Routes(router.Group("/api/v1/users"), mwauth.New(logger, authn))

	return &App{
		logger: logger,
		server: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	log := a.logger.With(
		slog.String("op", op),
		slog.String("address", a.server.Addr),
	)

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("http server is running", slog.String("address", listener.Addr().String()))

	if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop(ctx context.Context) {
	const op = "httpapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping http server", slog.String("address", a.server.Addr))

	if err := a.server.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", sl.Err(err))
		_ = a.server.Close()
	}
}
