package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики оркестратора и монитора.
var (
	// MessagesConsumed — обработанные входящие сообщения по endpoint и виду.
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_messages_consumed_total",
		Help: "Inbound messages processed, by endpoint and kind.",
	}, []string{"endpoint", "kind"})

	// DuplicatesDiscarded — отброшенные дубликаты финальных сообщений.
	DuplicatesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_duplicates_discarded_total",
		Help: "Terminal messages discarded because the job was already terminal.",
	}, []string{"stage"})

	// JobsScheduled — созданные и запланированные jobs по этапам.
	JobsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_jobs_scheduled_total",
		Help: "Jobs created and scheduled, by stage.",
	}, []string{"stage"})

	// JobsRetried — авторизованные повторы jobs по этапам.
	JobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_jobs_retried_total",
		Help: "Job retries authorized within the retry budget, by stage.",
	}, []string{"stage"})

	// JobsFinished — финальные переходы jobs по этапам и статусам.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_jobs_finished_total",
		Help: "Terminal job transitions, by stage and status.",
	}, []string{"stage", "status"})

	// RunsFinalized — финализированные runs по статусам.
	RunsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_runs_finalized_total",
		Help: "Finalized runs, by terminal status.",
	}, []string{"status"})

	// MonitorEscalations — принудительные вмешательства Job Monitor.
	MonitorEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_monitor_escalations_total",
		Help: "Jobs the monitor forced to a terminal state or rescheduled, by action.",
	}, []string{"action"})

	// PublishFailures — ошибки публикации запросов этапов.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_publish_failures_total",
		Help: "Stage request publish failures (outcome unknown), by stage.",
	}, []string{"stage"})
)
