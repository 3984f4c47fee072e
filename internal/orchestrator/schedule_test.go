package orchestrator

import (
	"testing"

	"github.com/shaiso/Cascade/internal/domain"
)

// scheduleProgress строит снимок продвижения: включены перечисленные
// этапы, jobs существуют для этапов из statuses.
func scheduleProgress(enabled []domain.Stage, statuses map[domain.Stage]domain.JobStatus) *progress {
	configs := domain.JobConfigs{}
	for _, stage := range enabled {
		configs[stage] = map[string]any{}
	}
	run := &domain.Run{ID: 1, Status: domain.RunStatusActive, JobConfigs: configs}

	var jobs []domain.Job
	var id int64
	for _, stage := range domain.Stages {
		status, ok := statuses[stage]
		if !ok {
			continue
		}
		id++
		jobs = append(jobs, domain.Job{ID: id, RunID: 1, Stage: stage, Status: status})
	}
	return newProgress(run, jobs)
}

func allStages() []domain.Stage {
	return append([]domain.Stage(nil), domain.Stages...)
}

func TestCanRun(t *testing.T) {
	tests := []struct {
		name     string
		stage    domain.Stage
		enabled  []domain.Stage
		statuses map[domain.Stage]domain.JobStatus
		want     bool
	}{
		{
			name:    "root stage of fresh run",
			stage:   domain.StageConfig,
			enabled: allStages(),
			want:    true,
		},
		{
			name:    "disabled stage never runs",
			stage:   domain.StageConfig,
			enabled: []domain.Stage{domain.StageAnalyzer},
			want:    false,
		},
		{
			name:    "dependency still in flight",
			stage:   domain.StageAnalyzer,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig: domain.JobStatusRunning,
			},
			want: false,
		},
		{
			name:    "dependency completed",
			stage:   domain.StageAnalyzer,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig: domain.JobStatusFinished,
			},
			want: true,
		},
		{
			name:    "disabled dependency is skipped",
			stage:   domain.StageEvaluator,
			enabled: []domain.Stage{domain.StageEvaluator},
			want:    true,
		},
		{
			name:    "already scheduled stage does not run twice",
			stage:   domain.StageAnalyzer,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusScheduled,
			},
			want: false,
		},
		{
			name:    "evaluator waits for advisor in flight",
			stage:   domain.StageEvaluator,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusFinished,
				domain.StageAdvisor:  domain.JobStatusRunning,
				domain.StageScanner:  domain.JobStatusFinished,
			},
			want: false,
		},
		{
			name:    "evaluator runs once advisor and scanner are done",
			stage:   domain.StageEvaluator,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusFinished,
				domain.StageAdvisor:  domain.JobStatusFinishedWithIssues,
				domain.StageScanner:  domain.JobStatusFinished,
			},
			want: true,
		},
		{
			name:    "failure blocks regular stage",
			stage:   domain.StageAdvisor,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusFailed,
			},
			want: false,
		},
		{
			name:    "reporter runs after failure",
			stage:   domain.StageReporter,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusFailed,
			},
			want: true,
		},
		{
			name:    "notifier waits for reporter in flight",
			stage:   domain.StageNotifier,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusFailed,
				domain.StageReporter: domain.JobStatusScheduled,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scheduleProgress(tt.enabled, tt.statuses)
			if got := ruleFor(tt.stage).canRun(p); got != tt.want {
				t.Fatalf("canRun(%s) = %v, want %v", tt.stage, got, tt.want)
			}
		})
	}
}

func TestPending(t *testing.T) {
	tests := []struct {
		name     string
		stage    domain.Stage
		enabled  []domain.Stage
		statuses map[domain.Stage]domain.JobStatus
		want     bool
	}{
		{
			name:    "unscheduled stage with satisfiable deps",
			stage:   domain.StageEvaluator,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig: domain.JobStatusScheduled,
			},
			want: true,
		},
		{
			name:    "scheduled but unfinished stage is pending",
			stage:   domain.StageAnalyzer,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusRunning,
			},
			want: true,
		},
		{
			name:    "completed stage is not pending",
			stage:   domain.StageAnalyzer,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusFinished,
			},
			want: false,
		},
		{
			name:    "failure clears pending for regular stage",
			stage:   domain.StageEvaluator,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusFailed,
			},
			want: false,
		},
		{
			name:    "reporter stays pending after failure",
			stage:   domain.StageReporter,
			enabled: allStages(),
			statuses: map[domain.Stage]domain.JobStatus{
				domain.StageConfig:   domain.JobStatusFinished,
				domain.StageAnalyzer: domain.JobStatusFailed,
			},
			want: true,
		},
		{
			name:    "disabled stage is never pending",
			stage:   domain.StageReporter,
			enabled: []domain.Stage{domain.StageAnalyzer},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scheduleProgress(tt.enabled, tt.statuses)
			if got := ruleFor(tt.stage).pending(p); got != tt.want {
				t.Fatalf("pending(%s) = %v, want %v", tt.stage, got, tt.want)
			}
		})
	}
}

func TestProgressActive(t *testing.T) {
	// Незавершённый job держит run активным.
	p := scheduleProgress(allStages(), map[domain.Stage]domain.JobStatus{
		domain.StageConfig: domain.JobStatusRunning,
	})
	if !p.active() {
		t.Fatal("run with running job reported inactive")
	}

	// Все jobs финальны, но нефинальные этапы ещё выполнимы.
	p = scheduleProgress(allStages(), map[domain.Stage]domain.JobStatus{
		domain.StageConfig: domain.JobStatusFinished,
	})
	if !p.active() {
		t.Fatal("run with pending stages reported inactive")
	}

	// Провал в начале: regular-этапы отпали, но reporter/notifier ещё впереди.
	p = scheduleProgress(allStages(), map[domain.Stage]domain.JobStatus{
		domain.StageConfig:   domain.JobStatusFinished,
		domain.StageAnalyzer: domain.JobStatusFailed,
	})
	if !p.active() {
		t.Fatal("run with runAfterFailure stages ahead reported inactive")
	}

	// Хвост отработал: продвигаться больше некуда.
	p = scheduleProgress(allStages(), map[domain.Stage]domain.JobStatus{
		domain.StageConfig:   domain.JobStatusFinished,
		domain.StageAnalyzer: domain.JobStatusFailed,
		domain.StageReporter: domain.JobStatusFinished,
		domain.StageNotifier: domain.JobStatusFinished,
	})
	if p.active() {
		t.Fatal("completed run reported active")
	}
}
