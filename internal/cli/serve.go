package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pankaj28843/docs-mcp-server/internal/api"
	"github.com/pankaj28843/docs-mcp-server/internal/trigger"
	"github.com/pankaj28843/docs-mcp-server/pkg/kafka"
	"github.com/pankaj28843/docs-mcp-server/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, sync triggers and scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting docsearch", "port", cfg.Server.Port, "data_dir", cfg.Index.DataDir, "tenants", len(cfg.Tenants))
	a, err := newApp(ctx, cfg, appOptions{
		registerer: prometheus.DefaultRegisterer,
		triggers:   true,
		events:     true,
		limit:      true,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
	}

	recovered, err := a.scheduler.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering sync history: %w", err)
	}
	if recovered > 0 {
		slog.Warn("jobs interrupted by the previous shutdown marked failed", "count", recovered)
	}

	if a.watcher != nil {
		a.watcher.Start(ctx)
	}
	a.spawn(ctx, "rate limiter", func(ctx context.Context) error {
		a.limiter.Run(ctx, 5*time.Minute)
		return nil
	})
	if err := a.svc.Bootstrap(ctx, cfg.Tenants); err != nil {
		slog.Error("some configured tenants failed to register", "error", err)
	}

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SyncRequests, trigger.KafkaHandler(a.svc))
		a.spawn(ctx, "sync request consumer", consumer.Start)
		slog.Info("listening for sync requests", "topic", cfg.Kafka.Topics.SyncRequests)
	}

	router := api.NewRouter(api.NewHandler(a.svc), a.checker, a.metrics, cfg.Server.WriteTimeout)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("docsearch listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	<-shutdownDone
	slog.Info("docsearch stopped")
	return nil
}
