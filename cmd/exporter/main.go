package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"catalogexport/internal/api"
	"catalogexport/internal/config"
	"catalogexport/internal/database"
	"catalogexport/internal/events"
	"catalogexport/internal/export"
	"catalogexport/internal/logging"
	"catalogexport/internal/metrics"
	"catalogexport/internal/models"
	"catalogexport/internal/notify"
	"catalogexport/internal/pipeline"
	"catalogexport/internal/queue"
	"catalogexport/internal/storage"
	"catalogexport/internal/worker"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", "", "path to config file (defaults to $CONFIG_PATH or configs/config.yaml)")
	pflag.Parse()

	cfg, logger, closer, err := loadConfigAndLogger(*configPath)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	eventBus := events.NewEventBus()
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.Subscribe(eventBus)
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	exportQueue, closeQueue := initQueue(ctx, cfg, clock, &logger)
	defer closeQueue()

	s3Client, err := storage.NewS3Client(ctx, cfg.Storage)
	if err != nil {
		logger.Error().Err(err).Msg("init object storage")
		return err
	}
	uploader := storage.NewUploader(s3Client, cfg.Storage, clock, &logger)

	generator, err := export.New(db, cfg.Exports, &logger)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(cfg.Notifications, notify.NewFileSink(cfg.Notifications), clock, &logger)

	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Generator: generator,
		Uploader:  uploader,
		Source:    db,
		Notifier:  dispatcher,
		Runs:      db,
		Events:    eventBus,
		Clock:     clock,
	}, cfg.Exports, &logger)

	exportWorker := worker.NewExportWorker(exportQueue, orchestrator, cfg.Queue, clock, eventBus, &logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		exportWorker.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		export.NewJanitor(cfg.Exports, clock, &logger).Start(ctx)
	}()

	if err := startServers(ctx, cfg, exportWorker, db, exportQueue, clock, &logger); err != nil {
		stop()
		wg.Wait()
		return err
	}

	wg.Wait()
	logger.Info().Msg("exporter stopped")
	return nil
}

func loadConfigAndLogger(configPath string) (*config.Config, zerolog.Logger, io.Closer, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(baseLogger, "exporter-main")

	return cfg, logger, closer, nil
}

// initQueue prefers Redis and keeps an in-memory queue as fallback. Without
// a Redis address the in-memory queue is used alone.
func initQueue(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *zerolog.Logger) (queue.Queue, func()) {
	memory := queue.NewMemoryQueue(models.WorkerQueueSize, clock)
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("redis address not set, using in-memory queue")
		return memory, func() {}
	}

	client := queue.NewRedisClient(cfg.Redis)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis unreachable at startup, falling back until it recovers")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	primary := queue.NewRedisQueue(client, cfg.Queue.Name, cfg.Queue.VisibilityTimeout, clock)
	return queue.NewFailoverQueue(primary, memory, clock, logger), func() { _ = client.Close() }
}

func startServers(
	ctx context.Context,
	cfg *config.Config,
	enqueuer api.Enqueuer,
	db *database.DB,
	health api.Pinger,
	clock clockwork.Clock,
	logger *zerolog.Logger,
) error {
	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config; exports can only be enqueued in-process")
		<-ctx.Done()
		return nil
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		srv, err := api.NewGRPCServer(cfg.API, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		grpcServer = srv
		go grpcServer.WatchQueue(ctx, health, clock, 0)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, enqueuer, db, health, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Int("grpc_port", cfg.API.GRPC.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
	}
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
