package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/message"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/transport"
)

// --- Фейки хранилищ и транспорта ---

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[int64]*domain.Run

	// failGet — одноразовый сбой следующего Get (имитация
	// транзиентной ошибки БД посреди обработки).
	failGet error
}

func (s *fakeRunStore) Get(ctx context.Context, id int64) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		err := s.failGet
		s.failGet = nil
		return nil, err
	}
	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *fakeRunStore) MarkActive(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok && run.Status == domain.RunStatusCreated {
		run.Status = domain.RunStatusActive
	}
	return nil
}

func (s *fakeRunStore) Finalize(ctx context.Context, id int64, status domain.RunStatus, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	run.Status = status
	run.Error = errMsg
	run.FinishedAt = &now
	return true, nil
}

type fakeJobStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*domain.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[int64]*domain.Job)}
}

func (s *fakeJobStore) CreateScheduled(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.RunID == job.RunID && existing.Stage == job.Stage {
			return repo.ErrAlreadyExists
		}
	}
	s.nextID++
	job.ID = s.nextID
	job.Status = domain.JobStatusScheduled
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeJobStore) Get(ctx context.Context, runID int64, stage domain.Stage) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.RunID == runID && job.Stage == stage {
			cp := *job
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *fakeJobStore) GetByID(ctx context.Context, id int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *fakeJobStore) ListByRun(ctx context.Context, runID int64) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []domain.Job
	for _, job := range s.jobs {
		if job.RunID == runID {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *fakeJobStore) TransitionTerminal(ctx context.Context, id int64, status domain.JobStatus, summary, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = status
	job.Summary = summary
	job.Error = errMsg
	job.FinishedAt = &now
	return true, nil
}

func (s *fakeJobStore) MarkRunning(ctx context.Context, id int64, deadline time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusRunning
	job.HeartbeatDeadline = deadline
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	return true, nil
}

func (s *fakeJobStore) Reschedule(ctx context.Context, id int64, deadline time.Time, fromAttempt, maxRetries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() || job.Attempt != fromAttempt || job.Attempt > maxRetries {
		return false, nil
	}
	job.Status = domain.JobStatusScheduled
	job.Attempt++
	job.HeartbeatDeadline = deadline
	return true, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*message.Envelope
}

func (s *fakeSender) Send(ctx context.Context, env *message.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSender) Close() error { return nil }

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// --- Тестовая обвязка ---

const testRunID = int64(1)

type testEnv struct {
	t       *testing.T
	orch    *Orchestrator
	runs    *fakeRunStore
	jobs    *fakeJobStore
	senders map[domain.Stage]*fakeSender
}

// newTestEnv создаёт оркестратор с фейковыми хранилищами и один run
// с перечисленными включёнными этапами.
func newTestEnv(t *testing.T, maxRetries int, stages ...domain.Stage) *testEnv {
	t.Helper()

	configs := domain.JobConfigs{}
	for _, stage := range stages {
		configs[stage] = map[string]any{}
	}
	run := &domain.Run{
		ID:         testRunID,
		TraceID:    "trace-1",
		Status:     domain.RunStatusCreated,
		JobConfigs: configs,
		CreatedAt:  time.Now().UTC(),
	}

	runs := &fakeRunStore{runs: map[int64]*domain.Run{testRunID: run}}
	jobs := newFakeJobStore()

	senders := make(map[domain.Stage]*fakeSender)
	senderIfaces := make(map[domain.Stage]transport.Sender)
	for _, stage := range domain.Stages {
		sender := &fakeSender{}
		senders[stage] = sender
		senderIfaces[stage] = sender
	}

	orch := &Orchestrator{
		runs:       runs,
		jobs:       jobs,
		maxRetries: maxRetries,
		heartbeat:  time.Minute,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		senders:    senderIfaces,
	}
	return &testEnv{t: t, orch: orch, runs: runs, jobs: jobs, senders: senders}
}

// dispatch доставляет сообщение оркестратору, как это сделал бы транспорт.
func (e *testEnv) dispatch(kind message.Kind, payload any) {
	e.t.Helper()
	if err := e.dispatchErr(kind, payload); err != nil {
		e.t.Fatalf("dispatch %s: %v", kind, err)
	}
}

// dispatchErr доставляет сообщение и возвращает ошибку обработки.
func (e *testEnv) dispatchErr(kind message.Kind, payload any) error {
	e.t.Helper()
	env, err := message.New(message.Header{TraceID: "trace-1", RunID: testRunID}, kind, payload)
	if err != nil {
		e.t.Fatalf("build %s envelope: %v", kind, err)
	}
	return e.orch.dispatch(context.Background(), e.orch.logger, env)
}

func (e *testEnv) start() {
	e.dispatch(message.KindRunCreated, message.RunCreated{})
}

func (e *testEnv) cancel(reason string) {
	e.dispatch(message.KindRunCancel, message.RunCancel{Reason: reason})
}

func (e *testEnv) started(stage domain.Stage) {
	e.dispatch(message.StartedKind(stage), message.StageStarted{JobID: e.job(stage).ID})
}

func (e *testEnv) result(stage domain.Stage, hasIssues bool) {
	e.dispatch(message.ResultKind(stage), message.StageResult{JobID: e.job(stage).ID, HasIssues: hasIssues})
}

// workerErr доставляет ошибку worker'а с текущим номером попытки job'а.
func (e *testEnv) workerErr(stage domain.Stage, reason string, retryable bool) {
	e.workerErrAt(stage, reason, retryable, e.job(stage).Attempt)
}

// workerErrAt доставляет ошибку worker'а с явным номером попытки
// (устаревший номер имитирует повторную доставку той же ошибки).
func (e *testEnv) workerErrAt(stage domain.Stage, reason string, retryable bool, attempt int) {
	e.dispatch(message.ErrorKind(stage), message.WorkerError{
		JobID:     e.job(stage).ID,
		Reason:    reason,
		Retryable: retryable,
		Attempt:   attempt,
	})
}

// job возвращает job этапа или проваливает тест.
func (e *testEnv) job(stage domain.Stage) *domain.Job {
	e.t.Helper()
	job, err := e.jobs.Get(context.Background(), testRunID, stage)
	if err != nil {
		e.t.Fatalf("job for stage %s: %v", stage, err)
	}
	return job
}

// noJob проверяет, что job этапа не создавался.
func (e *testEnv) noJob(stage domain.Stage) {
	e.t.Helper()
	if _, err := e.jobs.Get(context.Background(), testRunID, stage); err == nil {
		e.t.Fatalf("unexpected job for stage %s", stage)
	}
}

func (e *testEnv) run() *domain.Run {
	e.t.Helper()
	run, err := e.runs.Get(context.Background(), testRunID)
	if err != nil {
		e.t.Fatalf("get run: %v", err)
	}
	return run
}

// requireJobStatus проверяет статус job'а этапа.
func (e *testEnv) requireJobStatus(stage domain.Stage, want domain.JobStatus) {
	e.t.Helper()
	if got := e.job(stage).Status; got != want {
		e.t.Fatalf("stage %s: status = %s, want %s", stage, got, want)
	}
}

// requireRunStatus проверяет статус run'а.
func (e *testEnv) requireRunStatus(want domain.RunStatus) {
	e.t.Helper()
	if got := e.run().Status; got != want {
		e.t.Fatalf("run status = %s, want %s", got, want)
	}
}

// requireRequests проверяет число опубликованных запросов этапа.
func (e *testEnv) requireRequests(stage domain.Stage, want int) {
	e.t.Helper()
	if got := e.senders[stage].count(); got != want {
		e.t.Fatalf("stage %s: %d requests published, want %d", stage, got, want)
	}
}

// --- Сценарии ---

func TestPipelineHappyPath(t *testing.T) {
	e := newTestEnv(t, 0, domain.Stages...)

	e.start()
	e.requireRunStatus(domain.RunStatusActive)
	e.requireRequests(domain.StageConfig, 1)
	e.noJob(domain.StageAnalyzer)

	e.result(domain.StageConfig, false)
	e.requireRequests(domain.StageAnalyzer, 1)

	e.result(domain.StageAnalyzer, false)
	e.requireRequests(domain.StageAdvisor, 1)
	e.requireRequests(domain.StageScanner, 1)
	e.noJob(domain.StageEvaluator)

	// Evaluator ждёт и advisor, и scanner.
	e.result(domain.StageAdvisor, false)
	e.noJob(domain.StageEvaluator)
	e.result(domain.StageScanner, false)
	e.requireRequests(domain.StageEvaluator, 1)

	e.started(domain.StageEvaluator)
	e.requireJobStatus(domain.StageEvaluator, domain.JobStatusRunning)
	if e.job(domain.StageEvaluator).StartedAt == nil {
		t.Fatal("started signal did not record StartedAt")
	}

	e.result(domain.StageEvaluator, false)
	e.result(domain.StageReporter, false)
	e.result(domain.StageNotifier, false)

	e.requireRunStatus(domain.RunStatusFinished)
	if e.run().FinishedAt == nil {
		t.Fatal("finalized run has no FinishedAt")
	}
	for _, stage := range domain.Stages {
		e.requireRequests(stage, 1)
	}
}

func TestDuplicateResultSchedulesDownstreamOnce(t *testing.T) {
	e := newTestEnv(t, 0, domain.StageAnalyzer, domain.StageEvaluator)

	e.start()
	e.requireRequests(domain.StageAnalyzer, 1)

	// Брокер доставил результат анализатора дважды.
	e.result(domain.StageAnalyzer, false)
	e.result(domain.StageAnalyzer, false)

	e.requireRequests(domain.StageEvaluator, 1)
	if got := e.job(domain.StageEvaluator).Attempt; got != 1 {
		t.Fatalf("evaluator attempt = %d, want 1", got)
	}

	e.result(domain.StageEvaluator, false)
	e.requireRunStatus(domain.RunStatusFinished)
}

func TestResultWithIssues(t *testing.T) {
	e := newTestEnv(t, 0, domain.StageAnalyzer)

	e.start()
	e.result(domain.StageAnalyzer, true)

	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFinishedWithIssues)
	e.requireRunStatus(domain.RunStatusFinishedWithIssues)
}

func TestStageFailureSkipsDownstream(t *testing.T) {
	e := newTestEnv(t, 0, domain.Stages...)

	e.start()
	e.result(domain.StageConfig, false)
	e.workerErr(domain.StageAnalyzer, "clone failed", false)

	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFailed)
	e.noJob(domain.StageAdvisor)
	e.noJob(domain.StageScanner)
	e.noJob(domain.StageEvaluator)

	// Reporter и notifier выполняются и после провала.
	e.requireRequests(domain.StageReporter, 1)
	e.result(domain.StageReporter, false)
	e.requireRequests(domain.StageNotifier, 1)
	e.result(domain.StageNotifier, false)

	e.requireRunStatus(domain.RunStatusFailed)
	if !strings.Contains(e.run().Error, "analyzer: clone failed") {
		t.Fatalf("run error = %q, want analyzer failure reason", e.run().Error)
	}
}

func TestRetryBudget(t *testing.T) {
	e := newTestEnv(t, 1, domain.StageAnalyzer)

	e.start()
	e.requireRequests(domain.StageAnalyzer, 1)

	e.workerErr(domain.StageAnalyzer, "registry timeout", true)
	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusScheduled)
	if got := e.job(domain.StageAnalyzer).Attempt; got != 2 {
		t.Fatalf("attempt = %d, want 2", got)
	}
	e.requireRequests(domain.StageAnalyzer, 2)
	e.requireRunStatus(domain.RunStatusActive)

	// Бюджет исчерпан: вторая повторяемая ошибка проваливает job.
	e.workerErr(domain.StageAnalyzer, "registry timeout", true)
	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFailed)
	e.requireRequests(domain.StageAnalyzer, 2)
	e.requireRunStatus(domain.RunStatusFailed)
}

func TestNonRetryableErrorFailsImmediately(t *testing.T) {
	e := newTestEnv(t, 3, domain.StageAnalyzer)

	e.start()
	e.workerErr(domain.StageAnalyzer, "bad revision", false)

	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFailed)
	e.requireRequests(domain.StageAnalyzer, 1)
	e.requireRunStatus(domain.RunStatusFailed)
}

func TestEmptyRunFinishesImmediately(t *testing.T) {
	e := newTestEnv(t, 0)

	e.start()

	e.requireRunStatus(domain.RunStatusFinished)
	jobs, _ := e.jobs.ListByRun(context.Background(), testRunID)
	if len(jobs) != 0 {
		t.Fatalf("%d jobs created for run without enabled stages", len(jobs))
	}
}

func TestCancelRun(t *testing.T) {
	e := newTestEnv(t, 0, domain.StageAnalyzer, domain.StageReporter)

	e.start()
	e.cancel("operator request")

	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFailed)
	if got := e.job(domain.StageAnalyzer).Error; got != "operator request" {
		t.Fatalf("cancelled job error = %q", got)
	}
	e.requireRunStatus(domain.RunStatusFailed)

	// Этапы с runAfterFailure при отмене не планируются.
	e.noJob(domain.StageReporter)

	// Поздний настоящий результат отменённого job'а — дубликат.
	e.result(domain.StageAnalyzer, false)
	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFailed)
	e.requireRunStatus(domain.RunStatusFailed)
}

func TestCancelFinalizedRunIsNoop(t *testing.T) {
	e := newTestEnv(t, 0, domain.StageAnalyzer)

	e.start()
	e.result(domain.StageAnalyzer, false)
	e.requireRunStatus(domain.RunStatusFinished)

	e.cancel("too late")
	e.requireRunStatus(domain.RunStatusFinished)
	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFinished)
}

func TestDuplicateRunCreatedIsNoop(t *testing.T) {
	e := newTestEnv(t, 0, domain.StageAnalyzer)

	e.start()
	e.start()

	e.requireRequests(domain.StageAnalyzer, 1)
	jobs, _ := e.jobs.ListByRun(context.Background(), testRunID)
	if len(jobs) != 1 {
		t.Fatalf("%d jobs after duplicate run.created, want 1", len(jobs))
	}
}

func TestMonitorRetryJob(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1, domain.StageAnalyzer)

	e.start()
	job := e.job(domain.StageAnalyzer)

	applied, err := e.orch.RetryJob(ctx, job)
	if err != nil || !applied {
		t.Fatalf("RetryJob: applied=%v, err=%v", applied, err)
	}
	if got := e.job(domain.StageAnalyzer).Attempt; got != 2 {
		t.Fatalf("attempt = %d, want 2", got)
	}
	e.requireRequests(domain.StageAnalyzer, 2)

	// Бюджет исчерпан: повтор не авторизуется.
	applied, err = e.orch.RetryJob(ctx, e.job(domain.StageAnalyzer))
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if applied {
		t.Fatal("RetryJob applied beyond retry budget")
	}
}

func TestMonitorFailJobForcesTerminalOnce(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 0, domain.StageAnalyzer)

	e.start()
	job := e.job(domain.StageAnalyzer)

	if err := e.orch.FailJob(ctx, job, "worker lost"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFailed)
	e.requireRunStatus(domain.RunStatusFailed)

	// Поздний настоящий результат после вмешательства монитора
	// не переписывает финальное состояние.
	e.result(domain.StageAnalyzer, false)
	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFailed)
	e.requireRunStatus(domain.RunStatusFailed)

	// Повторное вмешательство — no-op.
	if err := e.orch.FailJob(ctx, job, "worker lost"); err != nil {
		t.Fatalf("repeat FailJob: %v", err)
	}
}

func TestLateStartedSignalDiscarded(t *testing.T) {
	e := newTestEnv(t, 0, domain.StageAnalyzer)

	e.start()
	e.result(domain.StageAnalyzer, false)
	e.started(domain.StageAnalyzer)

	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFinished)
	e.requireRunStatus(domain.RunStatusFinished)
}

func TestUnknownKindDiscarded(t *testing.T) {
	e := newTestEnv(t, 0, domain.StageAnalyzer)

	e.start()
	e.dispatch(message.Kind("mystery.result"), struct{}{})
	e.dispatch(message.Kind("analyzer.explode"), struct{}{})

	e.requireRunStatus(domain.RunStatusActive)
	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusScheduled)
}

func TestRedeliveredResultRecoversInterruptedAdvance(t *testing.T) {
	e := newTestEnv(t, 0, domain.StageAnalyzer, domain.StageEvaluator)

	e.start()

	// Финальный переход анализатора коммитится, но загрузка run для
	// планирования срывается: evaluator остаётся незапланированным.
	e.runs.failGet = errors.New("db timeout")
	err := e.dispatchErr(message.ResultKind(domain.StageAnalyzer),
		message.StageResult{JobID: e.job(domain.StageAnalyzer).ID})
	if err == nil {
		t.Fatal("interrupted handling must surface the store error")
	}
	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusFinished)
	e.noJob(domain.StageEvaluator)

	// Повторная доставка того же результата — дубликат для перехода,
	// но run она всё равно продвигает.
	e.result(domain.StageAnalyzer, false)
	e.requireRequests(domain.StageEvaluator, 1)

	e.result(domain.StageEvaluator, false)
	e.requireRunStatus(domain.RunStatusFinished)
}

func TestAdvanceRunRepairsStalledRun(t *testing.T) {
	e := newTestEnv(t, 0, domain.StageAnalyzer, domain.StageEvaluator)

	e.start()
	e.runs.failGet = errors.New("db timeout")
	err := e.dispatchErr(message.ResultKind(domain.StageAnalyzer),
		message.StageResult{JobID: e.job(domain.StageAnalyzer).ID})
	if err == nil {
		t.Fatal("interrupted handling must surface the store error")
	}
	e.noJob(domain.StageEvaluator)

	// Так застрявший run находит и продвигает Job Monitor.
	if err := e.orch.AdvanceRun(context.Background(), e.run()); err != nil {
		t.Fatalf("AdvanceRun: %v", err)
	}
	e.requireRequests(domain.StageEvaluator, 1)

	// Повторное продвижение ничего не планирует заново.
	if err := e.orch.AdvanceRun(context.Background(), e.run()); err != nil {
		t.Fatalf("repeat AdvanceRun: %v", err)
	}
	e.requireRequests(domain.StageEvaluator, 1)
}

func TestDuplicateWorkerErrorDoesNotBurnBudget(t *testing.T) {
	e := newTestEnv(t, 5, domain.StageAnalyzer)

	e.start()
	e.workerErrAt(domain.StageAnalyzer, "registry timeout", true, 1)
	if got := e.job(domain.StageAnalyzer).Attempt; got != 2 {
		t.Fatalf("attempt = %d, want 2", got)
	}
	e.requireRequests(domain.StageAnalyzer, 2)

	// Брокер доставил ту же ошибку ещё раз: номер попытки в ней
	// устарел, второй повтор не авторизуется.
	e.workerErrAt(domain.StageAnalyzer, "registry timeout", true, 1)
	if got := e.job(domain.StageAnalyzer).Attempt; got != 2 {
		t.Fatalf("duplicate error burned a retry: attempt = %d", got)
	}
	e.requireRequests(domain.StageAnalyzer, 2)
	e.requireJobStatus(domain.StageAnalyzer, domain.JobStatusScheduled)
	e.requireRunStatus(domain.RunStatusActive)
}

// TestDependencyOrderUnderRandomArrival гоняет полный конвейер при
// случайном порядке прихода результатов: при любом порядке каждый этап
// планируется только после завершения всех своих зависимостей и ровно
// один раз.
func TestDependencyOrderUnderRandomArrival(t *testing.T) {
	for seed := int64(0); seed < 32; seed++ {
		rng := rand.New(rand.NewSource(seed))
		e := newTestEnv(t, 0, domain.Stages...)

		completed := map[domain.Stage]bool{}
		seen := map[domain.Stage]bool{}

		// checkNewRequests проверяет, что у каждого только что
		// опубликованного запроса все зависимости уже завершены.
		checkNewRequests := func() {
			for _, rule := range scheduleRules {
				if seen[rule.stage] || e.senders[rule.stage].count() == 0 {
					continue
				}
				seen[rule.stage] = true
				for _, dep := range rule.dependsOn {
					if !completed[dep] {
						t.Fatalf("seed %d: %s requested before %s finished", seed, rule.stage, dep)
					}
				}
				for _, dep := range rule.runsAfter {
					if !completed[dep] {
						t.Fatalf("seed %d: %s requested before %s settled", seed, rule.stage, dep)
					}
				}
			}
		}

		ready := func() []domain.Stage {
			var stages []domain.Stage
			for _, stage := range domain.Stages {
				if !completed[stage] && e.senders[stage].count() > 0 {
					stages = append(stages, stage)
				}
			}
			return stages
		}

		e.start()
		checkNewRequests()

		for stages := ready(); len(stages) > 0; stages = ready() {
			stage := stages[rng.Intn(len(stages))]
			e.result(stage, false)
			completed[stage] = true
			checkNewRequests()
		}

		e.requireRunStatus(domain.RunStatusFinished)
		for _, stage := range domain.Stages {
			if got := e.senders[stage].count(); got != 1 {
				t.Fatalf("seed %d: stage %s published %d requests, want 1", seed, stage, got)
			}
		}
	}
}
