// Package aiclient is the single outbound HTTP client for every AI-backed
// concern: generating cron expressions for smart-schedule triggers,
// predicting execution failure as an optional fail-open engine hook, and
// running the ai_prompt/slash_command/subagent/tool_invocation/
// generic_ai_query task kinds.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cronpilot/internal/executor/runner"
	"cronpilot/internal/models"
)

// Client talks to one configured AI service endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a Client with the teacher's conservative request timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// PredictionRequest carries the features used to score one task.
type PredictionRequest struct {
	TaskID   string                 `json:"task_id"`
	Features map[string]interface{} `json:"features"`
}

// PredictionResponse is the scored outcome of a PredictFailure call.
type PredictionResponse struct {
	TaskID             string  `json:"task_id"`
	FailureProbability float64 `json:"failure_probability"`
	Confidence         float64 `json:"confidence"`
	Decision           string  `json:"decision"`
}

// PredictFailure scores the likelihood a pending dispatch will fail.
// Callers must fail open: a transport error here blocks no execution.
func (c *Client) PredictFailure(ctx context.Context, taskID string, features map[string]interface{}) (*PredictionResponse, error) {
	var resp PredictionResponse
	if err := c.postJSON(ctx, "/predict/failure", PredictionRequest{TaskID: taskID, Features: features}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CronRequest asks the service to translate a natural-language schedule
// description into a standard cron expression.
type CronRequest struct {
	Description  string          `json:"description"`
	Constraints  json.RawMessage `json:"constraints,omitempty"`
	FallbackCron string          `json:"fallback_cron,omitempty"`
}

// CronResponse carries the generated expression and the model's stated
// confidence in it.
type CronResponse struct {
	CronExpression string  `json:"cron_expression"`
	Confidence     float64 `json:"confidence"`
	Explanation    string  `json:"explanation"`
}

// GenerateCronExpression converts a natural-language schedule description
// into a cron expression, satisfying smartschedule.CronGenerator.
func (c *Client) GenerateCronExpression(ctx context.Context, description string, constraints []byte, fallback string) (string, error) {
	var resp CronResponse
	req := CronRequest{Description: description, Constraints: constraints, FallbackCron: fallback}
	if err := c.postJSON(ctx, "/schedule/generate", req, &resp); err != nil {
		return "", err
	}
	return resp.CronExpression, nil
}

// PromptRequest drives the ai_prompt, slash_command, subagent,
// tool_invocation, and generic_ai_query task kinds.
type PromptRequest struct {
	Prompt         string   `json:"prompt"`
	Model          string   `json:"model,omitempty"`
	AllowedTools   []string `json:"allowed_tools,omitempty"`
	SubagentName   string   `json:"subagent_name,omitempty"`
	InheritContext bool     `json:"inherit_context,omitempty"`
}

// PromptResponse is the full, structured reply to a PromptRequest.
type PromptResponse struct {
	Output         string           `json:"output"`
	ThinkingOutput string           `json:"thinking_output,omitempty"`
	ToolCalls      models.ToolCalls `json:"tool_calls,omitempty"`
	Usage          models.SDKUsage  `json:"usage"`
	CostUSD        float64          `json:"cost_usd"`
	Error          string           `json:"error,omitempty"`
}

// RunPrompt sends a prompt request and returns the full structured reply.
func (c *Client) RunPrompt(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	var resp PromptResponse
	if err := c.postJSON(ctx, "/run/prompt", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("aiclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("aiclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("aiclient: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("aiclient: %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("aiclient: decode response: %w", err)
	}
	return nil
}

// PromptRunner adapts Client to the runner.Runner interface for the
// AI-backed task kinds (ai_prompt, slash_command, subagent,
// tool_invocation, generic_ai_query). The kind only shapes the prompt
// sent; the transport and response handling are shared.
type PromptRunner struct {
	Client *Client
}

func NewPromptRunner(c *Client) *PromptRunner {
	return &PromptRunner{Client: c}
}

func (r *PromptRunner) Run(ctx context.Context, task *models.Task, exec *models.Execution, sink runner.OutputSink) runner.Result {
	start := time.Now()

	req := PromptRequest{
		Prompt:         promptFor(task),
		Model:          task.Config.Model,
		AllowedTools:   task.Config.AllowedTools,
		SubagentName:   task.Config.SubagentName,
		InheritContext: task.Config.InheritContext,
	}

	resp, err := r.Client.RunPrompt(ctx, req)
	duration := time.Since(start)
	if err != nil {
		return runner.Result{ExitCode: -1, Error: err.Error(), Duration: duration}
	}

	// The prompt transport is request/response, not a stream: the whole
	// output arrives at once, so this is a single sink call rather than
	// the shell runner's chunk-as-written incremental updates.
	sink.Output(resp.Output)
	sink.Thinking(resp.ThinkingOutput)

	exitCode := 0
	if resp.Error != "" {
		exitCode = 1
	}

	return runner.Result{
		ExitCode:       exitCode,
		Output:         resp.Output,
		Error:          resp.Error,
		Duration:       duration,
		ThinkingOutput: resp.ThinkingOutput,
		ToolCalls:      resp.ToolCalls,
		SDKUsage:       resp.Usage,
		CostUSD:        resp.CostUSD,
	}
}

func promptFor(task *models.Task) string {
	switch task.Kind {
	case models.TaskKindSlashCommand:
		return task.Config.SlashCommand
	case models.TaskKindToolInvoke:
		return fmt.Sprintf("invoke tool %s with input %s", task.Config.ToolName, string(task.Config.ToolInput))
	default:
		return task.Config.Prompt
	}
}
