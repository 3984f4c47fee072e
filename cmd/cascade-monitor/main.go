// Cascade Monitor — страховка от потерянных сообщений и умерших
// worker'ов.
//
// Monitor периодически обходит незавершённые jobs с истекшим
// heartbeat-сроком и эскалирует их через переходы ядра оркестратора.
// Лидерство разыгрывается через pg_try_advisory_lock: одновременные
// эскалации безопасны, но лишние повторы ни к чему.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Cascade/internal/config"
	"github.com/shaiso/Cascade/internal/monitor"
	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/transport"
	_ "github.com/shaiso/Cascade/internal/transport/rabbitmq"
)

const monitorLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting cascade-monitor")

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

	runRepo := repo.NewRunRepo(pool)
	jobRepo := repo.NewJobRepo(pool)

	// Ядро оркестратора без циклов приёма: монитор вмешивается
	// через его переходы и наследует дедупликацию.
	orch, err := orchestrator.New(ctx, orchestrator.Config{
		Runs:             runRepo,
		Jobs:             jobRepo,
		Transport:        &transport.Options{Config: &cfg.Transport, Logger: logger},
		MaxRetries:       cfg.Orchestrator.Retries(),
		HeartbeatTimeout: cfg.Monitor.HeartbeatTimeout.Std(),
		Logger:           logger,
	})
	if err != nil {
		logger.Error("create orchestrator core", "error", err)
		os.Exit(1)
	}
	defer orch.Close()

	mon, err := monitor.New(monitor.Config{
		Jobs:             jobRepo,
		Runs:             runRepo,
		Escalator:        orch,
		SweepInterval:    cfg.Monitor.SweepInterval.Std(),
		HeartbeatTimeout: cfg.Monitor.HeartbeatTimeout.Std(),
		MinJobAge:        cfg.Monitor.MinJobAge.Std(),
		Logger:           logger,
	})
	if err != nil {
		logger.Error("create monitor", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8084"
	if v := os.Getenv("MONITOR_PORT"); v != "" {
		port = ":" + v
	}
	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Advisory lock живёт в сессии, поэтому держим выделенное
	// соединение на всё время лидерства.
	conn, err := pool.Acquire(ctx)
	if err != nil {
		logger.Error("acquire connection", "error", err)
		os.Exit(1)
	}
	defer conn.Release()

	for {
		var leader bool
		if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", monitorLockKey).Scan(&leader); err != nil {
			logger.Error("advisory lock", "error", err)
			os.Exit(1)
		}
		if leader {
			break
		}
		logger.Debug("not a leader, waiting")
		select {
		case <-time.After(cfg.Monitor.SweepInterval.Std()):
		case <-ctx.Done():
			logger.Info("cascade-monitor stopped")
			return
		}
	}
	defer conn.Exec(context.Background(), "select pg_advisory_unlock($1)", monitorLockKey)
	logger.Info("leadership acquired")

	if err := mon.Run(ctx); err != nil {
		logger.Error("monitor stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("cascade-monitor stopped")
}

func configPath() string {
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		return v
	}
	return "config.yaml"
}
