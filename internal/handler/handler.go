// Package handler implements the result-handler fan-out that runs after
// an execution reaches a terminal state: notify, file, webhook,
// trigger_task, and the retry marker (which the retry controller owns).
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"cronpilot/internal/models"
	"cronpilot/internal/resilience"
	"cronpilot/internal/template"
)

// TaskTrigger invokes another task, used by the trigger_task handler.
// Implemented by the engine to avoid an import cycle.
type TaskTrigger interface {
	Execute(ctx context.Context, taskID string, triggerOrigin string, triggerContext map[string]interface{}, overrideConditions bool) (string, error)
}

// Router sequentially dispatches a task's declared handlers for one
// terminal execution.
type Router struct {
	log        *zap.Logger
	httpClient *http.Client
	webhookCBs *resilience.Registry
	trigger    TaskTrigger
}

func NewRouter(log *zap.Logger, trigger TaskTrigger) *Router {
	return &Router{
		log:        log,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		webhookCBs: resilience.NewRegistry(resilience.DefaultWebhookCircuitBreakerConfig),
		trigger:    trigger,
	}
}

// webhookCircuitKey buckets a destination URL down to its host, so the
// breaker trips per endpoint rather than per exact URL (query strings
// or path variations on the same host share fate) and so an
// unparsable URL still gets some breaker rather than none.
func webhookCircuitKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// Run invokes handlers in declaration order. A handler error is logged
// and does not abort the remaining handlers.
func (r *Router) Run(ctx context.Context, task *models.Task, execution *models.Execution, handlers models.HandlerList) {
	for _, h := range handlers {
		if err := r.runOne(ctx, task, execution, h); err != nil {
			r.log.Warn("result handler failed",
				zap.String("task_id", task.ID.String()),
				zap.String("kind", string(h.Kind)),
				zap.Error(err))
		}
	}
}

func (r *Router) runOne(ctx context.Context, task *models.Task, execution *models.Execution, h models.Handler) error {
	switch h.Kind {
	case models.HandlerNotify:
		return r.notify(task, execution, h)
	case models.HandlerFile:
		return r.file(task, execution, h)
	case models.HandlerWebhook:
		return r.webhook(ctx, task, execution, h)
	case models.HandlerTriggerTask:
		return r.triggerTask(ctx, task, execution, h)
	case models.HandlerRetry:
		// Reserved marker: scheduling the retry itself is the engine's
		// job via the retry controller, not a post-run side effect here.
		return nil
	default:
		return fmt.Errorf("handler: unknown kind %q", h.Kind)
	}
}

func (r *Router) notify(task *models.Task, execution *models.Execution, h models.Handler) error {
	prefix := "-"
	switch h.Urgency {
	case "medium":
		prefix = "!"
	case "high":
		prefix = "!!!"
	}
	msg := template.Expand(h.Message, task, execution)
	r.log.Info(fmt.Sprintf("%s %s", prefix, msg),
		zap.String("task_id", task.ID.String()),
		zap.String("task_name", task.Name),
		zap.String("status", string(execution.Status)))
	return nil
}

func (r *Router) file(task *models.Task, execution *models.Execution, h models.Handler) error {
	path := template.Expand(h.Path, task, execution)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("handler: file: mkdir: %w", err)
	}
	content := template.Expand(h.Message, task, execution)

	flags := os.O_WRONLY | os.O_CREATE
	if h.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("handler: file: open: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

// webhookPayload is the fixed-shape body posted to webhook handlers.
type webhookPayload struct {
	Event     string               `json:"event"`
	Timestamp time.Time            `json:"timestamp"`
	Task      taskSummary          `json:"task"`
	Execution execSummary          `json:"execution"`
	Result    resultSummary        `json:"result"`
	SDKUsage  models.SDKUsage      `json:"sdk_usage"`
	CostUSD   float64              `json:"cost_usd"`
	Thinking  string               `json:"thinking_output"`
	ToolCalls []toolCallProjection `json:"tool_calls"`
}

type taskSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type execSummary struct {
	ID             string                 `json:"id"`
	Status         string                 `json:"status"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at"`
	DurationMS     *int64                 `json:"duration_ms"`
	TriggerType    string                 `json:"trigger_type"`
	TriggerContext map[string]interface{} `json:"trigger_context"`
}

type resultSummary struct {
	Output          string `json:"output"`
	Error           string `json:"error"`
	ExitCode        *int   `json:"exit_code"`
	OutputTruncated bool   `json:"output_truncated"`
}

type toolCallProjection struct {
	ToolName   string    `json:"tool_name"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

func (r *Router) webhook(ctx context.Context, task *models.Task, execution *models.Execution, h models.Handler) error {
	dest := template.Expand(h.URL, task, execution)
	method := h.Method
	if method == "" {
		method = http.MethodPost
	}
	cb := r.webhookCBs.Get(webhookCircuitKey(dest))

	projections := make([]toolCallProjection, 0, len(execution.ToolCalls))
	for _, tc := range execution.ToolCalls {
		projections = append(projections, toolCallProjection{
			ToolName:   tc.ToolName,
			Success:    tc.Success,
			DurationMS: tc.Duration.Milliseconds(),
			Timestamp:  tc.Timestamp,
		})
	}

	payload := webhookPayload{
		Event:     "task_completed",
		Timestamp: time.Now().UTC(),
		Task: taskSummary{
			ID:          task.ID.String(),
			Name:        task.Name,
			Kind:        string(task.Kind),
			Description: task.Description,
		},
		Execution: execSummary{
			ID:             execution.ID.String(),
			Status:         string(execution.Status),
			StartedAt:      execution.StartedAt,
			CompletedAt:    execution.CompletedAt,
			DurationMS:     execution.DurationMS,
			TriggerType:    execution.TriggerType,
			TriggerContext: execution.TriggerContext,
		},
		Result: resultSummary{
			Output:          execution.Output,
			Error:           execution.Error,
			ExitCode:        execution.ExitCode,
			OutputTruncated: execution.OutputTruncated,
		},
		SDKUsage:  execution.SDKUsage,
		CostUSD:   execution.CostUSD,
		Thinking:  execution.ThinkingOutput,
		ToolCalls: projections,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("handler: webhook: marshal: %w", err)
	}

	send := func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, method, dest, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "cronpilot-webhook/1.0")
		for k, v := range h.Headers {
			req.Header.Set(k, v)
		}

		var cbErr error
		cbErr = cb.Execute(attemptCtx, func() error {
			resp, err := r.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 500 {
				return fmt.Errorf("handler: webhook: server error status %d", resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				return backoff.Permanent(fmt.Errorf("handler: webhook: client error status %d", resp.StatusCode))
			}
			return nil
		})
		return struct{}{}, cbErr
	}

	_, err = backoff.Retry(ctx, send,
		backoff.WithBackOff(&linearBackoff{}),
		backoff.WithMaxTries(3))
	if err != nil {
		return fmt.Errorf("handler: webhook: %w", err)
	}
	return nil
}

// linearBackoff implements backoff.BackOff with the spec's
// "attempt * 1s" linear delay, rather than the library's default
// exponential curve.
type linearBackoff struct {
	attempt int
}

func (l *linearBackoff) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * time.Second
}

func (l *linearBackoff) Reset() {
	l.attempt = 0
}

func (r *Router) triggerTask(ctx context.Context, task *models.Task, execution *models.Execution, h models.Handler) error {
	var triggerCtx map[string]interface{}
	if h.PassContext {
		output := execution.Output
		truncated := output
		if len(output) > 1000 {
			truncated = output[:1000] + "... [truncated]"
		}
		triggerCtx = map[string]interface{}{"parent_output": truncated}
	}
	_, err := r.trigger.Execute(ctx, h.TargetTaskID.String(), "triggered", triggerCtx, false)
	return err
}
