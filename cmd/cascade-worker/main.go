// Cascade Worker — worker-процесс одного этапа конвейера.
//
// Этап задаётся переменной окружения STAGE. Бинарник собран со
// StubExecutor: реальные деплои подставляют прикладной Executor
// этапа, обвязка остаётся той же.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Cascade/internal/config"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/transport"
	_ "github.com/shaiso/Cascade/internal/transport/rabbitmq"
	"github.com/shaiso/Cascade/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()

	stage, err := domain.ParseStage(os.Getenv("STAGE"))
	if err != nil {
		logger.Error("STAGE env var must name a pipeline stage", "error", err)
		os.Exit(1)
	}
	logger.Info("starting cascade-worker", "stage", stage)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath())
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	w, err := worker.New(ctx, worker.Config{
		Stage:             stage,
		Executor:          &worker.StubExecutor{},
		Jobs:              repo.NewJobRepo(pool),
		Runs:              repo.NewRunRepo(pool),
		Transport:         &transport.Options{Config: &cfg.Transport, Logger: logger},
		HeartbeatInterval: cfg.Monitor.HeartbeatTimeout.Std() / 2,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("create worker", "error", err)
		os.Exit(1)
	}
	defer w.Close()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8085"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}
	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	if err := w.Run(ctx); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("cascade-worker stopped")
}

func configPath() string {
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		return v
	}
	return "config.yaml"
}
