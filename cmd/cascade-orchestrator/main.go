// Cascade Orchestrator — машина состояний конвейера анализа.
//
// Orchestrator:
//   - Получает run.created и run.cancel из своего inbox'а
//   - Потребляет ответы этапов с endpoint'ов результатов
//   - Применяет переходы к state store и планирует следующие этапы
//   - Финализирует runs
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Cascade/internal/config"
	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/transport"
	_ "github.com/shaiso/Cascade/internal/transport/rabbitmq"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting cascade-orchestrator")

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

	orch, err := orchestrator.New(ctx, orchestrator.Config{
		Runs:             repo.NewRunRepo(pool),
		Jobs:             repo.NewJobRepo(pool),
		Transport:        &transport.Options{Config: &cfg.Transport, Logger: logger},
		MaxRetries:       cfg.Orchestrator.Retries(),
		HeartbeatTimeout: cfg.Monitor.HeartbeatTimeout.Std(),
		Logger:           logger,
	})
	if err != nil {
		logger.Error("create orchestrator", "error", err)
		os.Exit(1)
	}
	defer orch.Close()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
		port = ":" + v
	}
	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	if err := orch.Run(ctx); err != nil {
		logger.Error("orchestrator stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("cascade-orchestrator stopped")
}

func configPath() string {
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		return v
	}
	return "config.yaml"
}
