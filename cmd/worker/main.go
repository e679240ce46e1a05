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

	"github.com/kirillkom/notegen/internal/bootstrap"
	"github.com/kirillkom/notegen/internal/config"
	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/observability/logging"
	"github.com/kirillkom/notegen/internal/observability/metrics"
)

const service = "worker"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogFormat, service, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(service)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    service,
		Logger:     logger,
		Registerer: workerMetrics.Registerer(),
	})
	if err != nil {
		logger.Error("bootstrap error", slog.Any("error", err))
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := startMetricsServer(cfg.WorkerMetricsPort, workerMetrics, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker subscribed", slog.String("subject", cfg.NATSSubject))
	err = app.Queue.SubscribeNoteCommands(ctx, func(handlerCtx context.Context, cmd domain.NoteCommand) error {
		if !cmd.EnqueuedAt.IsZero() {
			workerMetrics.ObserveQueueLag(service, time.Since(cmd.EnqueuedAt))
		}
		workerMetrics.StartCommand()
		start := time.Now()

		processCtx, cancel := context.WithTimeout(handlerCtx, cfg.ProcessTimeout)
		defer cancel()
		err := app.Pipeline.HandleCommand(processCtx, cmd)

		workerMetrics.FinishCommand(service, cmd.Action, time.Since(start), err)
		return err
	})
	if err != nil {
		logger.Error("worker subscribe error", slog.Any("error", err))
		os.Exit(1)
	}
}

func startMetricsServer(port string, m *metrics.WorkerMetrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker metrics server error", slog.Any("error", err))
		}
	}()
	return server
}
