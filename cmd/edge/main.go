// chatfabric-edge terminates client websockets and forwards chat traffic
// to the central router fabric.
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
	"github.com/ashureev/chatfabric/internal/applications"
	"github.com/ashureev/chatfabric/internal/cache"
	"github.com/ashureev/chatfabric/internal/config"
	"github.com/ashureev/chatfabric/internal/directory"
	"github.com/ashureev/chatfabric/internal/domain"
	"github.com/ashureev/chatfabric/internal/gateway"
	"github.com/ashureev/chatfabric/internal/inbound"
	"github.com/ashureev/chatfabric/internal/metrics"
	"github.com/ashureev/chatfabric/internal/middleware"
	"github.com/ashureev/chatfabric/internal/offlinequeue"
	"github.com/ashureev/chatfabric/internal/push"
	"github.com/ashureev/chatfabric/internal/routermsg"
	"github.com/ashureev/chatfabric/internal/routerpool"
	"github.com/ashureev/chatfabric/internal/store"
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

	slog.Info("starting edge server", "port", cfg.Port, "identifier", cfg.ServerIdentifier, "dev", cfg.IsDevelopment())

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

	cacheSvc := cache.NewService(repo)
	defer cacheSvc.Stop()

	apps := applications.NewDirectory()
	refreshApplications(ctx, admin, apps)
	go periodically(ctx, cfg.SettingsRefreshInterval, func() { refreshApplications(ctx, admin, apps) })

	dir := directory.New()
	queue := offlinequeue.New()
	pool := workerpool.New(8)
	defer pool.Close()

	reg := prometheus.NewRegistry()
	counters := metrics.New(reg)

	routerMsgSvc := routermsg.New(dir, queue)

	routers := routerpool.New(admin, dir, cfg.ServerIdentifier, cfg.CentralRouterInternalSecret, cfg.RouterDiscoveryInterval, routerMsgSvc.HandleFrame)
	go routers.Run(ctx)

	notifier := alert.New(cfg.Email.Host, cfg.Email.Port, cfg.Email.User, cfg.Email.Password, cfg.Admins)

	inboundSvc := inbound.New(repo, cacheSvc, routers, apps, counters, notifier, pool, cfg.MaxDynamoMessageLimit, cfg.LastMessageReadLimit)

	gw := gateway.New(repo, apps, dir, routers, cfg.ManagerSecret, inboundSvc.Serve)

	pushGateway := push.New(cacheSvc, apps, pool, nil)
	go flushOfflineQueueLoop(ctx, cfg.FCMNotificationInterval, queue, pushGateway)

	go statusPingLoop(ctx, cfg.StatusPingInterval, admin, cfg.ServerIdentifier, dir, apps)
	go performancePingLoop(ctx, cfg.PerformancePingInterval, admin, cfg.ServerIdentifier, counters)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	health := api.NewHealthHandler(repo, "edge")
	r.Get("/healthz", health.Live)
	r.Get("/readyz", health.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/socket", gw.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("edge server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("edge server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down edge server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("edge server forced to shutdown", "error", err)
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

func refreshApplications(ctx context.Context, admin *adminclient.Client, apps *applications.Directory) {
	entries, err := admin.Applications(ctx)
	if err != nil {
		slog.Warn("failed to refresh application settings", "error", err)
		return
	}

	next := make(map[string]domain.ApplicationSettings, len(entries))
	for _, e := range entries {
		next[e.Identifier] = domain.ApplicationSettings{
			ApplicationID:            e.Identifier,
			IsChatActive:             e.IsChatActive,
			MaxConcurrentOnlineUsers: e.MaxConcurrentOnlineUsers,
			FirebaseServerKey:        e.FirebaseServerKey,
		}
	}
	apps.Replace(next)
}

func periodically(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func flushOfflineQueueLoop(ctx context.Context, interval time.Duration, queue *offlinequeue.Queue, gw *push.Gateway) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, n := range queue.Flush() {
				gw.Deliver(ctx, n)
			}
		}
	}
}

func statusPingLoop(ctx context.Context, interval time.Duration, admin *adminclient.Client, identifier string, dir *directory.Directory, apps *applications.Directory) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := adminclient.StatusReport{
				Identifier:            identifier,
				ConnectedClientsCount: len(dir.Keys()),
				ApplicationData:       countsToMap(apps.CountsSnapshot()),
			}
			if err := admin.ReportStatus(ctx, report); err != nil {
				slog.Warn("failed to report status", "error", err)
			}
		}
	}
}

func performancePingLoop(ctx context.Context, interval time.Duration, admin *adminclient.Client, identifier string, counters *metrics.Counters) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	from := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			to := time.Now()
			delta := counters.SnapshotDelta()
			report := adminclient.PerformanceReport{
				Identifier:      identifier,
				TimestampFrom:   adminclient.FormatTimestamp(from),
				TimestampTo:     adminclient.FormatTimestamp(to),
				PerformanceData: deltaToMap(delta),
			}
			if err := admin.ReportPerformance(ctx, report); err != nil {
				slog.Warn("failed to report performance", "error", err)
			}
			from = to
		}
	}
}

func countsToMap(counts map[string]int64) map[string]any {
	out := make(map[string]any, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}

func deltaToMap(delta map[metrics.CounterKey]float64) map[string]any {
	out := make(map[string]any, len(delta))
	for k, v := range delta {
		out[k.ApplicationID+"."+k.Event] = v
	}
	return out
}
