// Package models holds the durable entities of the scheduler: tasks,
// executions, and the JSON-blob value types embedded in them.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskKind discriminates the execution environment of a task.
type TaskKind string

const (
	TaskKindShell          TaskKind = "shell"
	TaskKindAIPrompt       TaskKind = "ai_prompt"
	TaskKindSlashCommand   TaskKind = "slash_command"
	TaskKindSubagent       TaskKind = "subagent"
	TaskKindToolInvoke     TaskKind = "tool_invocation"
	TaskKindGenericAIQuery TaskKind = "generic_ai_query"
)

// TriggerKind discriminates the tagged trigger variant.
type TriggerKind string

const (
	TriggerSchedule      TriggerKind = "schedule"
	TriggerInterval      TriggerKind = "interval"
	TriggerFileWatch     TriggerKind = "file_watch"
	TriggerHook          TriggerKind = "hook"
	TriggerDependency    TriggerKind = "dependency"
	TriggerManual        TriggerKind = "manual"
	TriggerSmartSchedule TriggerKind = "smart_schedule"
)

// Trigger is the tagged variant describing what fires a task. Only the
// fields relevant to Kind are populated; the rest are zero-valued.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// schedule
	Cron string `json:"cron,omitempty"`
	TZ   string `json:"tz,omitempty"`

	// interval
	Every string     `json:"every,omitempty"`
	Start *time.Time `json:"start,omitempty"`

	// file_watch
	Path     string `json:"path,omitempty"`
	Glob     string `json:"glob,omitempty"`
	Debounce string `json:"debounce,omitempty"`

	// hook
	Event      string          `json:"event,omitempty"`
	MatcherRE  string          `json:"matcher,omitempty"`
	Conditions *HookConditions `json:"conditions,omitempty"`

	// dependency
	ParentIDs   []uuid.UUID `json:"parent_ids,omitempty"`
	RequireMode string      `json:"require_mode,omitempty"` // "all" | "any"

	// manual
	Reason string `json:"reason,omitempty"`

	// smart_schedule
	NLDescription string          `json:"nl_description,omitempty"`
	Constraints   json.RawMessage `json:"constraints,omitempty"`
	FallbackCron  string          `json:"fallback_cron,omitempty"`
	ComputedCron  string          `json:"computed_cron,omitempty"`
	LastOptimized *time.Time      `json:"last_optimized,omitempty"`
}

// HookConditions narrows which hook events a task reacts to.
type HookConditions struct {
	Source        []string `json:"source,omitempty"`
	FilePattern   string   `json:"file_pattern,omitempty"`
	ToolNames     []string `json:"tool_names,omitempty"`
	SubagentNames []string `json:"subagent_names,omitempty"`
}

func (t *Trigger) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("trigger: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, t)
}

func (t Trigger) Value() (driver.Value, error) {
	return json.Marshal(t)
}

// TaskConfig is the kind-specific configuration block.
type TaskConfig struct {
	// shell
	Command string            `json:"command,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// ai_prompt / subagent / generic_ai_query
	Prompt         string   `json:"prompt,omitempty"`
	Model          string   `json:"model,omitempty"`
	AllowedTools   []string `json:"allowed_tools,omitempty"`
	InheritContext bool     `json:"inherit_context,omitempty"`
	SubagentName   string   `json:"subagent_name,omitempty"`

	// slash_command
	SlashCommand string `json:"slash_command,omitempty"`

	// tool_invocation
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// common
	Timeout string `json:"timeout,omitempty"` // duration string, e.g. "120s"
}

func (c *TaskConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("task_config: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, c)
}

func (c TaskConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// ExecutionOptions controls how the executor runs a dispatched task.
type ExecutionOptions struct {
	PermissionMode string       `json:"permission_mode,omitempty"`
	AllowedTools   []string     `json:"allowed_tools,omitempty"`
	ExtraDirs      []string     `json:"extra_dirs,omitempty"`
	ContextSources []string     `json:"context_sources,omitempty"`
	Timeout        string       `json:"timeout,omitempty"`
	Retry          *RetryPolicy `json:"retry,omitempty"`
}

func (o *ExecutionOptions) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("execution_options: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, o)
}

func (o ExecutionOptions) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// BackoffStrategy names a retry backoff computation.
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryAcceptSet names which terminal statuses qualify a failure for retry.
type RetryAcceptSet string

const (
	RetryAcceptAll     RetryAcceptSet = "all"
	RetryAcceptError   RetryAcceptSet = "error"
	RetryAcceptTimeout RetryAcceptSet = "timeout"
)

// RetryPolicy is the per-task retry configuration.
type RetryPolicy struct {
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      BackoffStrategy `json:"backoff"`
	InitialDelay string          `json:"initial_delay"`
	MaxDelay     string          `json:"max_delay"`
	Accept       RetryAcceptSet  `json:"accept"`
}

// Condition is one entry of the pre-execution gate set.
type Condition struct {
	// time window
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
	WindowTZ    string `json:"window_tz,omitempty"`

	// holiday
	HolidayRegion string `json:"holiday_region,omitempty"`

	// file existence
	OnlyIfFileExists string `json:"only_if_file_exists,omitempty"`
	SkipIfFileExists string `json:"skip_if_file_exists,omitempty"`

	// working tree
	OnlyIfGitDirty string `json:"only_if_git_dirty,omitempty"` // repo path

	// custom shell comparison
	SkipIfShell string `json:"skip_if_shell,omitempty"`
	OnlyIfShell string `json:"only_if_shell,omitempty"`
	Operator    string `json:"operator,omitempty"` // ==, !=, <, <=, >, >=
	Value       string `json:"value,omitempty"`
}

// Conditions is the ordered JSON-blob list of pre-execution gates.
type Conditions []Condition

func (c *Conditions) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("conditions: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, c)
}

func (c Conditions) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// HandlerKind names a result-handler variant.
type HandlerKind string

const (
	HandlerNotify      HandlerKind = "notify"
	HandlerFile        HandlerKind = "file"
	HandlerWebhook     HandlerKind = "webhook"
	HandlerTriggerTask HandlerKind = "trigger_task"
	HandlerRetry       HandlerKind = "retry"
)

// Handler is one entry in a task's on_success/on_failure handler list.
type Handler struct {
	Kind HandlerKind `json:"kind"`

	// notify
	Urgency string `json:"urgency,omitempty"` // low|medium|high
	Message string `json:"message,omitempty"`

	// file
	Path   string `json:"path,omitempty"`
	Append bool   `json:"append,omitempty"`
	Format string `json:"format,omitempty"`

	// webhook
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"` // POST|PUT
	Headers map[string]string `json:"headers,omitempty"`

	// trigger_task
	TargetTaskID uuid.UUID `json:"target_task_id,omitempty"`
	PassContext  bool      `json:"pass_context,omitempty"`
}

// HandlerList is the JSON-blob ordered sequence of handlers.
type HandlerList []Handler

func (h *HandlerList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("handler_list: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, h)
}

func (h HandlerList) Value() (driver.Value, error) {
	return json.Marshal(h)
}

// Task is the durable declarative unit of work.
type Task struct {
	ID          uuid.UUID `json:"id" gorm:"type:text;primaryKey"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`
	Enabled     bool      `json:"enabled" gorm:"not null;default:true;index"`

	Kind       TaskKind         `json:"kind" gorm:"type:varchar(32);not null;index"`
	Config     TaskConfig       `json:"config" gorm:"type:jsonb"`
	Trigger    Trigger          `json:"trigger" gorm:"type:jsonb"`
	Options    ExecutionOptions `json:"options" gorm:"type:jsonb"`
	Conditions Conditions       `json:"conditions" gorm:"type:jsonb"`

	OnSuccess HandlerList `json:"on_success" gorm:"type:jsonb"`
	OnFailure HandlerList `json:"on_failure" gorm:"type:jsonb"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastRun   *time.Time `json:"last_run"`
	NextRun   *time.Time `json:"next_run" gorm:"index"`

	RunCount       int64 `json:"run_count"`
	SuccessCount   int64 `json:"success_count"`
	FailureCount   int64 `json:"failure_count"`
	SkippedCount   int64 `json:"skipped_count"`
	CancelledCount int64 `json:"cancelled_count"`
	TimeoutCount   int64 `json:"timeout_count"`

	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TaskStats is the aggregate view of a task's execution history returned
// by Store.GetTaskStats.
type TaskStats struct {
	TotalRuns      int64   `json:"total_runs"`
	SuccessfulRuns int64   `json:"successful_runs"`
	FailedRuns     int64   `json:"failed_runs"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

// ExecutionStatus is the terminal or in-flight state of one attempt.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusSuccess   ExecutionStatus = "success"
	StatusFailure   ExecutionStatus = "failure"
	StatusTimeout   ExecutionStatus = "timeout"
	StatusCancelled ExecutionStatus = "cancelled"
	StatusSkipped   ExecutionStatus = "skipped"
)

// IsTerminal reports whether status is a final state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}

// ToolCall records one tool invocation performed during an execution.
type ToolCall struct {
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  time.Duration   `json:"duration"`
	Success   bool            `json:"success"`
}

// ToolCalls is the JSON-blob list of tool invocations for an execution.
type ToolCalls []ToolCall

func (t *ToolCalls) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("tool_calls: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, t)
}

func (t ToolCalls) Value() (driver.Value, error) {
	return json.Marshal(t)
}

// SDKUsage tallies token usage reported by an AI executor.
type SDKUsage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
}

func (u *SDKUsage) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("sdk_usage: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, u)
}

func (u SDKUsage) Value() (driver.Value, error) {
	return json.Marshal(u)
}

// TriggerContext carries hook payloads, parent-execution pointers, or
// retry metadata alongside an execution's trigger origin tag.
type TriggerContext map[string]interface{}

func (c *TriggerContext) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("trigger_context: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, c)
}

func (c TriggerContext) Value() (driver.Value, error) {
	if c == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(map[string]interface{}(c))
}

// Execution is the immutable-once-terminal record of one attempt.
type Execution struct {
	ID     uuid.UUID `json:"id" gorm:"type:text;primaryKey"`
	TaskID uuid.UUID `json:"task_id" gorm:"type:text;not null;index"`

	StartedAt   time.Time  `json:"started_at" gorm:"not null;index"`
	CompletedAt *time.Time `json:"completed_at"`
	DurationMS  *int64     `json:"duration_ms"`

	TriggerType    string         `json:"trigger_type" gorm:"type:varchar(32);not null"`
	TriggerContext TriggerContext `json:"trigger_context" gorm:"type:jsonb"`

	Status ExecutionStatus `json:"status" gorm:"type:varchar(16);not null;index"`

	ExitCode        *int      `json:"exit_code"`
	Error           string    `json:"error"`
	Output          string    `json:"output"`
	OutputTruncated bool      `json:"output_truncated"`
	OutputRef       string    `json:"output_ref"` // overflow blob reference (e.g. s3://...)
	ThinkingOutput  string    `json:"thinking_output"`
	ToolCalls       ToolCalls `json:"tool_calls" gorm:"type:jsonb"`
	SDKUsage        SDKUsage  `json:"sdk_usage" gorm:"type:jsonb"`
	CostUSD         float64   `json:"cost_usd"`
}

func (e *Execution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// DependencyJoinMode names the join predicate for a dependency trigger.
type DependencyJoinMode string

const (
	RequireAll DependencyJoinMode = "all"
	RequireAny DependencyJoinMode = "any"
)

// Dependency is the persisted reverse-adjacency edge parent -> child used
// to rebuild the in-memory DependencyGraph at engine start.
type Dependency struct {
	ParentTaskID uuid.UUID `json:"parent_task_id" gorm:"type:text;primaryKey"`
	ChildTaskID  uuid.UUID `json:"child_task_id" gorm:"type:text;primaryKey"`
	CreatedAt    time.Time `json:"created_at"`
}
