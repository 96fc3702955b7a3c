// Package engine is the single in-process dispatcher: it owns the
// catalog's trigger sources, serializes schedule/unschedule/reschedule,
// and runs every dispatched execution to a terminal state through the
// executor registry, condition evaluator, retry controller, result
// handler router, and dependency graph.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"

	"cronpilot/internal/condition"
	"cronpilot/internal/errs"
	"cronpilot/internal/executor"
	"cronpilot/internal/executor/runner"
	"cronpilot/internal/handler"
	"cronpilot/internal/metrics"
	"cronpilot/internal/models"
	"cronpilot/internal/retry"
	"cronpilot/internal/smartschedule"
	"cronpilot/internal/store"
	"cronpilot/internal/store/blobstore"
	"cronpilot/internal/stream"
	"cronpilot/internal/trigger/cronsource"
	"cronpilot/internal/trigger/dependency"
	"cronpilot/internal/trigger/filewatch"
	"cronpilot/internal/trigger/hook"
	"cronpilot/internal/trigger/intervalsource"
)

// validationCronParser checks trigger.cron syntax without side effects
// on the live cron engine (cronsource.Schedule would register a real
// entry).
var validationCronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// FailurePredictor is the optional AI fail-open hook consulted before a
// background-origin dispatch. A transport error or nil Predictor never
// blocks dispatch: the engine always fails open.
type FailurePredictor interface {
	PredictFailure(ctx context.Context, taskID string, features map[string]interface{}) (decision string, confidence float64, err error)
}

const (
	defaultShellTimeout    = 120 * time.Second
	defaultSubagentTimeout = 300 * time.Second
	outputInlineThreshold  = 64 * 1024
)

// Config controls engine-wide policy knobs sourced from the bootstrap
// configuration file.
type Config struct {
	MaxConcurrentTasks int
	DefaultTimezone    string
	AIEnabled          bool
}

// Engine is the sole dispatcher. It implements handler.TaskTrigger so
// the result handler router can invoke trigger_task without an import
// cycle back to this package.
type Engine struct {
	log      *zap.Logger
	store    store.Store
	registry *executor.Registry
	blobs    blobstore.Store // nil disables overflow offload

	conditions *condition.Evaluator
	retryCtl   *retry.Controller
	handlers   *handler.Router
	smart      *smartschedule.Resolver
	deps       *dependency.Graph
	predictor  FailurePredictor

	cronSrc     *cronsource.Source
	intervalSrc *intervalsource.Source
	filewatch   *filewatch.Source
	hookRouter  *hook.Router

	broadcaster *stream.Broadcaster

	cfg Config
	sem chan struct{}
}

// New wires an Engine and its trigger sources. smart and predictor may
// be nil (smart_schedule tasks fall back to fallback_cron, and dispatch
// skips the AI fail-open check).
func New(log *zap.Logger, st store.Store, registry *executor.Registry, blobs blobstore.Store, broadcaster *stream.Broadcaster, smart *smartschedule.Resolver, predictor FailurePredictor, cfg Config) *Engine {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = defaultConcurrencyFromHost(log)
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}

	e := &Engine{
		log:         log,
		store:       st,
		registry:    registry,
		blobs:       blobs,
		conditions:  condition.NewEvaluator(),
		retryCtl:    retry.NewController(),
		smart:       smart,
		predictor:   predictor,
		cfg:         cfg,
		sem:         make(chan struct{}, cfg.MaxConcurrentTasks),
		broadcaster: broadcaster,
	}

	e.handlers = handler.NewRouter(log, e)
	e.deps = dependency.New(e.dependencyDispatch, e.taskDisabled)
	e.cronSrc = cronsource.New(e.cronDispatch, e.setNextRun)
	e.intervalSrc = intervalsource.New(e.intervalDispatch)
	e.filewatch = filewatch.New(log, e.filewatchDispatch)
	e.hookRouter = hook.New(e.hookDispatch)

	return e
}

// defaultConcurrencyFromHost sizes the dispatch semaphore off the host's
// detected CPU count when the config leaves max_concurrent_tasks unset.
// Detection failure falls back to a fixed, conservative default; this
// is informational sizing, never a hard resource reservation.
func defaultConcurrencyFromHost(log *zap.Logger) int {
	const fallback = 10
	counts, err := cpu.Counts(true)
	if err != nil || counts <= 0 {
		log.Warn("cpu detection failed, using fixed default concurrency", zap.Error(err), zap.Int("default", fallback))
		return fallback
	}
	limit := counts * 4
	log.Info("defaulting max_concurrent_tasks from detected cpu cores", zap.Int("cpu_cores", counts), zap.Int("max_concurrent_tasks", limit))
	return limit
}

// DetectedCPUCores reports the host's logical CPU count for the health
// endpoint, independent of the concurrency cap actually in effect.
func DetectedCPUCores() int {
	counts, err := cpu.Counts(true)
	if err != nil {
		return 0
	}
	return counts
}

// Start brings up the cron engine and rebuilds every trigger source and
// the dependency graph from the persisted catalog. Call once at process
// startup, after any orphan-recovery pass.
func (e *Engine) Start(ctx context.Context) error {
	e.cronSrc.Start()

	edges, err := e.store.ListAllDependencies(ctx)
	if err != nil {
		return fmt.Errorf("engine: list dependencies: %w", err)
	}
	fwd := make(map[uuid.UUID][]uuid.UUID)
	for _, d := range edges {
		fwd[d.ChildTaskID] = append(fwd[d.ChildTaskID], d.ParentTaskID)
	}
	if err := dependency.CheckAcyclic(fwd); err != nil {
		return fmt.Errorf("engine: dependency graph: %w", err)
	}

	const pageSize = 200
	for offset := 0; ; offset += pageSize {
		tasks, err := e.store.ListTasks(ctx, pageSize, offset)
		if err != nil {
			return fmt.Errorf("engine: list tasks: %w", err)
		}
		for i := range tasks {
			if tasks[i].Enabled {
				e.scheduleTrigger(ctx, &tasks[i])
			}
		}
		if len(tasks) < pageSize {
			break
		}
	}
	return nil
}

// Stop cancels every cron/interval timer and closes every file watcher.
// Outstanding handler retries are left to complete on their own.
func (e *Engine) Stop() {
	e.cronSrc.Stop()
	ctx := context.Background()
	for offset := 0; ; offset += 200 {
		tasks, err := e.store.ListTasks(ctx, 200, offset)
		for i := range tasks {
			e.intervalSrc.Stop(tasks[i].ID)
			e.filewatch.Stop(tasks[i].ID)
		}
		if err != nil || len(tasks) < 200 {
			return
		}
	}
}

// CreateTask validates and persists task, then schedules its trigger if
// enabled.
func (e *Engine) CreateTask(ctx context.Context, task *models.Task) error {
	if err := e.validateTask(ctx, task); err != nil {
		return err
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return err
	}
	if task.Trigger.Kind == models.TriggerDependency {
		e.persistDependencyEdges(ctx, task)
	}
	if task.Enabled {
		e.scheduleTrigger(ctx, task)
	}
	return nil
}

// UpdateTask persists changes and reschedules the trigger if the trigger
// definition or enabled flag changed.
func (e *Engine) UpdateTask(ctx context.Context, task *models.Task) error {
	prior, err := e.store.GetTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if err := e.validateTask(ctx, task); err != nil {
		return err
	}
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	triggerChanged := prior.Trigger.Kind != task.Trigger.Kind || !sameTriggerBody(prior.Trigger, task.Trigger)
	if triggerChanged || prior.Enabled != task.Enabled {
		e.unscheduleTrigger(prior)
		if task.Trigger.Kind == models.TriggerDependency {
			e.persistDependencyEdges(ctx, task)
		}
		if task.Enabled {
			e.scheduleTrigger(ctx, task)
		}
	}
	return nil
}

// DeleteTask unschedules the task's trigger, then removes it from the
// catalog.
func (e *Engine) DeleteTask(ctx context.Context, id uuid.UUID) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	e.unscheduleTrigger(task)
	return e.store.DeleteTask(ctx, id)
}

func (e *Engine) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return e.store.GetTask(ctx, id)
}

func (e *Engine) ListTasks(ctx context.Context, limit, offset int) ([]models.Task, error) {
	return e.store.ListTasks(ctx, limit, offset)
}

func (e *Engine) ListExecutions(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]models.Execution, error) {
	return e.store.ListForTask(ctx, taskID, limit, offset)
}

func (e *Engine) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	return e.store.GetExecution(ctx, id)
}

// GetProgress returns the execution's current record plus a live
// subscription to its output stream. The terminal status arrives as a
// "status" event; the channel closes when the caller cancels ctx or
// calls the returned closer.
func (e *Engine) GetProgress(ctx context.Context, id uuid.UUID) (*models.Execution, <-chan stream.Event, func(), error) {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	events, closer, err := e.broadcaster.Subscribe(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return exec, events, closer, nil
}

func (e *Engine) validateTask(ctx context.Context, task *models.Task) error {
	if task.Name == "" {
		return &errs.ValidationError{Field: "name", Message: "required"}
	}
	switch task.Trigger.Kind {
	case models.TriggerSchedule:
		if task.Trigger.Cron == "" {
			return &errs.ValidationError{Field: "trigger.cron", Message: "required for schedule trigger"}
		}
		if _, err := validationCronParser.Parse(task.Trigger.Cron); err != nil {
			return &errs.ValidationError{Field: "trigger.cron", Message: err.Error()}
		}
	case models.TriggerInterval:
		if _, err := intervalsource.ParseEvery(task.Trigger.Every); err != nil {
			return &errs.ValidationError{Field: "trigger.every", Message: err.Error()}
		}
	case models.TriggerHook:
		if !hook.IsValidEvent(task.Trigger.Event) {
			return &errs.ValidationError{Field: "trigger.event", Message: "unknown hook event"}
		}
	case models.TriggerDependency:
		if len(task.Trigger.ParentIDs) == 0 {
			return &errs.ValidationError{Field: "trigger.parent_ids", Message: "required for dependency trigger"}
		}
		if err := e.checkAcyclicWith(ctx, task.ID, task.Trigger.ParentIDs); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkAcyclicWith(ctx context.Context, childID uuid.UUID, parentIDs []uuid.UUID) error {
	edges, err := e.store.ListAllDependencies(ctx)
	if err != nil {
		return fmt.Errorf("engine: list dependencies: %w", err)
	}
	fwd := make(map[uuid.UUID][]uuid.UUID)
	for _, d := range edges {
		fwd[d.ChildTaskID] = append(fwd[d.ChildTaskID], d.ParentTaskID)
	}
	for _, p := range parentIDs {
		if !contains(fwd[childID], p) {
			fwd[childID] = append(fwd[childID], p)
		}
	}
	if err := dependency.CheckAcyclic(fwd); err != nil {
		return fmt.Errorf("%w: %s", errs.ErrCycle, err.Error())
	}
	return nil
}

func contains(ids []uuid.UUID, target uuid.UUID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func (e *Engine) persistDependencyEdges(ctx context.Context, task *models.Task) {
	for _, parentID := range task.Trigger.ParentIDs {
		dep := &models.Dependency{ParentTaskID: parentID, ChildTaskID: task.ID, CreatedAt: time.Now().UTC()}
		if err := e.store.CreateDependency(ctx, dep); err != nil {
			e.log.Warn("failed to persist dependency edge",
				zap.String("parent", parentID.String()), zap.String("child", task.ID.String()), zap.Error(err))
		}
	}
}

func (e *Engine) taskDisabled(taskID uuid.UUID) bool {
	task, err := e.store.GetTask(context.Background(), taskID)
	if err != nil {
		return true
	}
	return !task.Enabled
}

func (e *Engine) scheduleTrigger(ctx context.Context, task *models.Task) {
	switch task.Trigger.Kind {
	case models.TriggerSchedule:
		next, err := e.cronSrc.Schedule(task.ID, task.Trigger.Cron, task.Trigger.TZ)
		if err != nil {
			e.log.Warn("cron schedule failed", zap.String("task_id", task.ID.String()), zap.Error(err))
			return
		}
		_ = e.store.UpdateNextRun(ctx, task.ID, next)

	case models.TriggerSmartSchedule:
		expr := task.Trigger.FallbackCron
		if e.smart != nil {
			resolved, updated, err := e.smart.Resolve(ctx, task.Name, task.Trigger)
			if err == nil {
				expr = resolved
				task.Trigger = updated
				if err := e.store.UpdateTask(ctx, task); err != nil {
					e.log.Warn("failed to persist computed cron", zap.String("task_id", task.ID.String()), zap.Error(err))
				}
			}
		}
		next, err := e.cronSrc.Schedule(task.ID, expr, task.Trigger.TZ)
		if err != nil {
			e.log.Warn("smart schedule cron invalid", zap.String("task_id", task.ID.String()), zap.Error(err))
			return
		}
		_ = e.store.UpdateNextRun(ctx, task.ID, next)

	case models.TriggerInterval:
		every, err := intervalsource.ParseEvery(task.Trigger.Every)
		if err != nil {
			e.log.Warn("interval parse failed", zap.String("task_id", task.ID.String()), zap.Error(err))
			return
		}
		e.intervalSrc.Schedule(task.ID, every, task.Trigger.Start)

	case models.TriggerFileWatch:
		debounce, _ := time.ParseDuration(task.Trigger.Debounce)
		if err := e.filewatch.Schedule(task.ID, task.Trigger.Path, task.Trigger.Glob, debounce); err != nil {
			e.log.Warn("file watch schedule failed", zap.String("task_id", task.ID.String()), zap.Error(err))
		}

	case models.TriggerHook:
		debounce := hookDebounceOf(task.Trigger)
		e.hookRouter.Register(hook.TaskMatcher{
			TaskID:     task.ID,
			Event:      task.Trigger.Event,
			MatcherRE:  task.Trigger.MatcherRE,
			Conditions: task.Trigger.Conditions,
			Debounce:   debounce,
		})

	case models.TriggerDependency:
		requireAll := task.Trigger.RequireMode != "any"
		e.deps.Register(task.ID, task.Trigger.ParentIDs, requireAll, 0)
	}
}

func hookDebounceOf(t models.Trigger) time.Duration {
	if t.Debounce == "" {
		return 0
	}
	d, _ := time.ParseDuration(t.Debounce)
	return d
}

func (e *Engine) unscheduleTrigger(task *models.Task) {
	e.cronSrc.Unschedule(task.ID)
	e.intervalSrc.Stop(task.ID)
	e.filewatch.Stop(task.ID)
	e.hookRouter.Unregister(task.ID)
	e.deps.Unregister(task.ID)
}

func sameTriggerBody(a, b models.Trigger) bool {
	a.ComputedCron, b.ComputedCron = "", ""
	a.LastOptimized, b.LastOptimized = nil, nil
	ja, _ := jsonMarshalTrigger(a)
	jb, _ := jsonMarshalTrigger(b)
	return ja == jb
}

// Execute satisfies handler.TaskTrigger and also serves as the engine's
// public entry point per spec §4.9/§6: Execute(task_id, trigger_origin,
// trigger_context?, override_conditions=false).
func (e *Engine) Execute(ctx context.Context, taskIDStr string, triggerOrigin string, triggerContext map[string]interface{}, overrideConditions bool) (string, error) {
	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		return "", &errs.ValidationError{Field: "task_id", Message: "not a valid uuid"}
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if !task.Enabled {
		return "", errs.ErrDisabled
	}

	now := time.Now().UTC()

	if !overrideConditions {
		verdict := e.conditions.Evaluate(ctx, task, now)
		if !verdict.Proceed {
			exec := &models.Execution{
				ID:             uuid.New(),
				TaskID:         task.ID,
				StartedAt:      now,
				CompletedAt:    &now,
				DurationMS:     ptrInt64(0),
				TriggerType:    triggerOrigin,
				TriggerContext: models.TriggerContext(triggerContext),
				Status:         models.StatusSkipped,
				Error:          verdict.Reason,
			}
			if err := e.store.CreateExecution(ctx, exec); err != nil {
				return "", fmt.Errorf("engine: persist skipped execution: %w", err)
			}
			_ = e.store.IncrementCounters(ctx, task.ID, models.StatusSkipped)
			metrics.ConditionSkips.WithLabelValues(task.Name).Inc()
			return exec.ID.String(), nil
		}
	}

	if e.predictor != nil && triggerOrigin != "manual" {
		features := map[string]interface{}{
			"day_of_week": int(now.Weekday()),
			"hour":        now.Hour(),
			"task_kind":   string(task.Kind),
		}
		decision, confidence, predErr := e.predictor.PredictFailure(ctx, task.ID.String(), features)
		if predErr != nil {
			e.log.Warn("ai failure prediction unavailable, failing open", zap.Error(predErr))
		} else if decision == "ABORT" {
			e.log.Info("ai predictor advised abort, dispatching anyway",
				zap.String("task_id", task.ID.String()), zap.Float64("confidence", confidence))
		}
	}

	exec := &models.Execution{
		ID:             uuid.New(),
		TaskID:         task.ID,
		StartedAt:      now,
		TriggerType:    triggerOrigin,
		TriggerContext: models.TriggerContext(triggerContext),
		Status:         models.StatusRunning,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return "", fmt.Errorf("engine: persist running execution: %w", err)
	}

	go e.dispatch(task, exec)

	return exec.ID.String(), nil
}

// engineSink pushes a running execution's output/thinking chunks to the
// store (atomic append, so a GetProgress poller always sees a prefix,
// never a torn write) and to the live-progress broadcaster. It's used
// for exactly one execution's lifetime and discarded.
type engineSink struct {
	log         *zap.Logger
	st          store.Store
	broadcaster *stream.Broadcaster
	execID      uuid.UUID
}

func (s *engineSink) Output(chunk string) {
	if chunk == "" {
		return
	}
	ctx := context.Background()
	if err := s.st.AppendOutput(ctx, s.execID, chunk); err != nil {
		s.log.Warn("failed to append live output", zap.String("execution_id", s.execID.String()), zap.Error(err))
	}
	if s.broadcaster != nil {
		_ = s.broadcaster.Publish(ctx, stream.Event{ExecutionID: s.execID, Kind: "output", Chunk: chunk})
	}
}

func (s *engineSink) Thinking(chunk string) {
	if chunk == "" {
		return
	}
	ctx := context.Background()
	if err := s.st.AppendThinking(ctx, s.execID, chunk); err != nil {
		s.log.Warn("failed to append live thinking output", zap.String("execution_id", s.execID.String()), zap.Error(err))
	}
	if s.broadcaster != nil {
		_ = s.broadcaster.Publish(ctx, stream.Event{ExecutionID: s.execID, Kind: "thinking", Chunk: chunk})
	}
}

func (e *Engine) dispatch(task *models.Task, exec *models.Execution) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	metrics.ActiveExecutions.Inc()
	defer metrics.ActiveExecutions.Dec()

	metrics.DispatchLag.Observe(time.Since(exec.StartedAt).Seconds())

	ctx, cancel := context.WithTimeout(context.Background(), e.effectiveTimeout(task))
	defer cancel()

	sink := &engineSink{log: e.log, st: e.store, broadcaster: e.broadcaster, execID: exec.ID}
	result, runErr := e.runSafely(ctx, task, exec, sink)

	completedAt := time.Now().UTC()
	exec.CompletedAt = &completedAt
	durationMS := completedAt.Sub(exec.StartedAt).Milliseconds()
	exec.DurationMS = &durationMS

	switch {
	case runErr != nil:
		exec.Status = models.StatusFailure
		exec.Error = runErr.Error()
	case ctx.Err() == context.DeadlineExceeded:
		exec.Status = models.StatusTimeout
		exec.Error = "execution timed out"
	case result.Error != "":
		exec.Status = models.StatusFailure
		exec.Error = result.Error
		exec.ExitCode = ptrInt(result.ExitCode)
	case result.ExitCode != 0:
		exec.Status = models.StatusFailure
		exec.Error = fmt.Sprintf("non-zero exit code %d", result.ExitCode)
		exec.ExitCode = ptrInt(result.ExitCode)
	default:
		exec.Status = models.StatusSuccess
		exec.ExitCode = ptrInt(result.ExitCode)
	}

	e.attachOutput(exec, result)
	exec.ThinkingOutput = result.ThinkingOutput
	exec.ToolCalls = result.ToolCalls
	exec.SDKUsage = result.SDKUsage
	exec.CostUSD = result.CostUSD

	bg := context.Background()
	if err := e.store.UpdateExecution(bg, exec); err != nil {
		e.log.Error("failed to persist terminal execution",
			zap.String("execution_id", exec.ID.String()), zap.Error(err))
	}
	_ = e.store.IncrementCounters(bg, task.ID, exec.Status)

	metrics.RecordExecution(task.Name, string(task.Kind), string(exec.Status), float64(durationMS)/1000.0)

	if e.broadcaster != nil {
		_ = e.broadcaster.Publish(bg, stream.Event{ExecutionID: exec.ID, Kind: "status", Status: string(exec.Status)})
	}

	switch exec.Status {
	case models.StatusSuccess:
		e.handlers.Run(bg, task, exec, task.OnSuccess)
		e.deps.NotifyCompleted(bg, task.ID, exec)

	case models.StatusFailure, models.StatusTimeout:
		if e.maybeRetry(bg, task, exec) {
			metrics.RetriesScheduled.WithLabelValues(task.Name).Inc()
		} else {
			e.handlers.Run(bg, task, exec, task.OnFailure)
		}
	}
}

// runSafely recovers a panicking executor into an ordinary failure, per
// spec §4.9's "if the executor itself throws" clause.
func (e *Engine) runSafely(ctx context.Context, task *models.Task, exec *models.Execution, sink runner.OutputSink) (result runner.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return e.registry.Run(ctx, task, exec, sink)
}

func (e *Engine) effectiveTimeout(task *models.Task) time.Duration {
	if d, err := time.ParseDuration(task.Config.Timeout); err == nil && d > 0 {
		return d
	}
	if d, err := time.ParseDuration(task.Options.Timeout); err == nil && d > 0 {
		return d
	}
	switch task.Kind {
	case models.TaskKindSubagent:
		return defaultSubagentTimeout
	default:
		return defaultShellTimeout
	}
}

func (e *Engine) attachOutput(exec *models.Execution, result runner.Result) {
	if len(result.Output) <= outputInlineThreshold || e.blobs == nil {
		exec.Output = result.Output
		return
	}
	ref, err := e.blobs.Store(context.Background(), exec.ID.String(), []byte(result.Output))
	if err != nil {
		e.log.Warn("overflow output store failed, keeping inline truncated copy",
			zap.String("execution_id", exec.ID.String()), zap.Error(err))
		exec.Output = result.Output[:outputInlineThreshold]
		exec.OutputTruncated = true
		return
	}
	exec.Output = result.Output[:outputInlineThreshold]
	exec.OutputTruncated = true
	exec.OutputRef = ref
}

func (e *Engine) maybeRetry(ctx context.Context, task *models.Task, exec *models.Execution) bool {
	policy := task.Options.Retry
	if policy == nil {
		return false
	}

	prior := priorRetryMetadata(exec.TriggerContext)
	attemptCount := 0
	if prior != nil {
		attemptCount = prior.AttemptCount
	}

	if !e.retryCtl.ShouldRetry(policy, attemptCount, exec.Status) {
		return false
	}

	delay := e.retryCtl.CalculateDelay(policy, attemptCount)
	meta := retry.BuildMetadata(policy, prior, exec.ID.String(), exec.StartedAt, exec.Status, exec.Error, delay)

	time.AfterFunc(delay, func() {
		retryCtx := map[string]interface{}{"retry_metadata": meta}
		if _, err := e.Execute(context.Background(), task.ID.String(), "retry", retryCtx, false); err != nil {
			e.log.Warn("scheduled retry failed to dispatch",
				zap.String("task_id", task.ID.String()), zap.Error(err))
		}
	})
	return true
}

func priorRetryMetadata(ctx models.TriggerContext) *retry.Metadata {
	raw, ok := ctx["retry_metadata"]
	if !ok {
		return nil
	}
	meta, ok := raw.(retry.Metadata)
	if ok {
		return &meta
	}
	// Round-tripped through JSON storage: raw is a generic map here.
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	retryCount, _ := m["retry_count"].(float64)
	maxAttempts, _ := m["max_attempts"].(float64)
	return &retry.Metadata{
		AttemptCount: int(retryCount),
		MaxAttempts:  int(maxAttempts),
	}
}

// dispatch callbacks, one per trigger source.

func (e *Engine) cronDispatch(ctx context.Context, taskID uuid.UUID) {
	if _, err := e.Execute(ctx, taskID.String(), "schedule", nil, false); err != nil {
		e.log.Warn("cron dispatch failed", zap.String("task_id", taskID.String()), zap.Error(err))
	}
}

func (e *Engine) setNextRun(ctx context.Context, taskID uuid.UUID, next time.Time) {
	if err := e.store.UpdateNextRun(ctx, taskID, next); err != nil {
		e.log.Warn("failed to persist next_run", zap.String("task_id", taskID.String()), zap.Error(err))
	}
}

func (e *Engine) intervalDispatch(ctx context.Context, taskID uuid.UUID) {
	if _, err := e.Execute(ctx, taskID.String(), "interval", nil, false); err != nil {
		e.log.Warn("interval dispatch failed", zap.String("task_id", taskID.String()), zap.Error(err))
	}
}

func (e *Engine) filewatchDispatch(ctx context.Context, taskID uuid.UUID, eventPath string, at time.Time) {
	triggerCtx := map[string]interface{}{"file_path": eventPath, "timestamp": at}
	if _, err := e.Execute(ctx, taskID.String(), "file_watch", triggerCtx, false); err != nil {
		e.log.Warn("file watch dispatch failed", zap.String("task_id", taskID.String()), zap.Error(err))
	}
}

func (e *Engine) hookDispatch(ctx context.Context, taskID uuid.UUID, event string, enriched hook.Context) {
	triggerCtx := map[string]interface{}(enriched)
	if triggerCtx == nil {
		triggerCtx = map[string]interface{}{}
	}
	triggerCtx["event"] = event
	if _, err := e.Execute(ctx, taskID.String(), "hook", triggerCtx, false); err != nil {
		e.log.Warn("hook dispatch failed", zap.String("task_id", taskID.String()), zap.Error(err))
	}
}

func (e *Engine) dependencyDispatch(ctx context.Context, dependentID, triggeredBy, executionID uuid.UUID) {
	triggerCtx := map[string]interface{}{
		"triggered_by": triggeredBy.String(),
		"execution_id": executionID.String(),
	}
	if _, err := e.Execute(ctx, dependentID.String(), "dependency", triggerCtx, false); err != nil {
		e.log.Warn("dependency dispatch failed", zap.String("task_id", dependentID.String()), zap.Error(err))
	}
}

// HandleHookEvent is the test-only "trigger hook" operation exposed by
// the bootstrap layer per spec §6.
func (e *Engine) HandleHookEvent(ctx context.Context, event string, raw map[string]interface{}) bool {
	return e.hookRouter.Fire(ctx, event, hook.Context(raw))
}

func ptrInt(v int) *int       { return &v }
func ptrInt64(v int64) *int64 { return &v }

func jsonMarshalTrigger(t models.Trigger) (string, error) {
	b, err := t.Value()
	if err != nil {
		return "", err
	}
	v, ok := b.([]byte)
	if !ok {
		return "", errors.New("engine: trigger value is not []byte")
	}
	return string(v), nil
}
