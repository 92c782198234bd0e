// Command todo runs the todo list walkthrough against the configured event
// store and, if TODO_METRICS_ADDR is set, serves metrics until interrupted.
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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	promadapter "github.com/codewandler/estodo/adapters/prometheus"
	"github.com/codewandler/estodo/internal/app"
	"github.com/codewandler/estodo/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "todo:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	todo := app.New(app.Config{
		Store:       store,
		Log:         log,
		ESMetrics:   promadapter.NewESMetrics(reg),
		Metrics:     promadapter.NewAppMetrics(reg),
		CacheSize:   cfg.CacheSize,
		MaxAttempts: cfg.MaxAttempts,
	})
	defer todo.Close()

	if err := walkthrough(ctx, log, todo, "owner-x"); err != nil {
		return err
	}

	if cfg.MetricsAddr == "" {
		return nil
	}
	return serve(ctx, log, cfg.MetricsAddr, reg)
}

func serve(ctx context.Context, log *slog.Logger, addr string, gatherer prometheus.Gatherer) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("metrics listening", slog.String("addr", addr))
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
