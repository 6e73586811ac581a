// chatfabric-router brokers chat traffic between edge servers: each edge
// opens a persistent connection here and the router fans ROUTABLE frames
// out to whichever edges currently hold the recipients' sockets.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/chatfabric/internal/adminclient"
	"github.com/ashureev/chatfabric/internal/alert"
	"github.com/ashureev/chatfabric/internal/api"
	"github.com/ashureev/chatfabric/internal/config"
	"github.com/ashureev/chatfabric/internal/dispatch"
	"github.com/ashureev/chatfabric/internal/edgeregistry"
	"github.com/ashureev/chatfabric/internal/locator"
	"github.com/ashureev/chatfabric/internal/metrics"
	"github.com/ashureev/chatfabric/internal/middleware"
	"github.com/ashureev/chatfabric/internal/mode"
	"github.com/ashureev/chatfabric/internal/store"
	"github.com/ashureev/chatfabric/internal/wire"
	"github.com/ashureev/chatfabric/internal/workerpool"
)

func main() {
	envErr := godotenv.Load()
	cfg, err := config.Load()
	setupLogging(cfg)

	if envErr != nil {
		slog.Info("no .env file found, using environment variables")
	}

	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting central router", "port", cfg.Port, "identifier", cfg.ServerIdentifier, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath, cfg.Retry.MaxElapsedTime)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("database health check failed", "error", err)
		os.Exit(1)
	}

	admin := adminclient.New(cfg.ChatAPIURL, cfg.ChatAPIInternalSecret, cfg.Retry.MaxElapsedTime)

	expected, err := admin.ExpectedEdgeCount(ctx)
	if err != nil {
		slog.Warn("failed to fetch expected edge count, starting at zero", "error", err)
	}
	slog.Info("expected edge count", "count", expected)

	reg := prometheus.NewRegistry()
	_ = metrics.New(reg)

	loc := locator.New()
	registry := edgeregistry.New()

	notifier := alert.New(cfg.Email.Host, cfg.Email.Port, cfg.Email.User, cfg.Email.Password, cfg.Admins)
	pool := workerpool.New(4)
	defer pool.Close()

	mc := mode.NewController(expected, func(edgeID string) {
		_ = registry.Send(ctx, edgeID, serverModeFrame())
	})
	router := dispatch.New(loc, registry, mc).WithAlerting(notifier, pool)

	go mc.Supervise(ctx, cfg.InitializationTimeout)

	gw := edgeregistry.NewGateway(cfg.CentralRouterInternalSecret, registry, router.HandleFrame, router.ConnectEdge, router.DisconnectEdge)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	health := api.NewHealthHandler(repo, "router")
	r.Get("/healthz", health.Live)
	r.Get("/readyz", health.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/router", gw.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("central router listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("central router failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down central router")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("central router forced to shutdown", "error", err)
	}
}

func setupLogging(cfg *config.Config) {
	var handler slog.Handler
	if cfg != nil && cfg.IsDevelopment() {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

func serverModeFrame() wire.ServerMode {
	return wire.ServerMode{Type: wire.TypeServerMode, Message: wire.ServerModeOperational}
}
