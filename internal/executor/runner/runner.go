// Package runner defines the executor-facing contract each task kind
// implements, and provides the shell runner used by TaskKindShell.
package runner

import (
	"context"
	"time"

	"cronpilot/internal/models"
)

// Result captures everything an execution records about one attempt.
type Result struct {
	ExitCode       int
	Output         string
	Error          string
	Duration       time.Duration
	ThinkingOutput string
	ToolCalls      models.ToolCalls
	SDKUsage       models.SDKUsage
	CostUSD        float64
}

// OutputSink receives output as a running execution produces it, so a
// GetProgress observer watching an in-flight execution sees it arrive
// incrementally instead of only once at completion. Both methods are
// called with whatever chunk the runner has in hand; an empty chunk is
// a no-op.
type OutputSink interface {
	Output(chunk string)
	Thinking(chunk string)
}

// NopSink discards every chunk. Used by callers (tests, one-shot CLI
// invocations) that don't need live progress.
type NopSink struct{}

func (NopSink) Output(string)   {}
func (NopSink) Thinking(string) {}

// Runner executes one task attempt to completion or until ctx is
// cancelled (deadline, timeout, or manual cancel). exec is the
// already-persisted RUNNING record for this attempt, passed through so
// a runner can inject execution/trigger metadata (e.g. the shell
// runner's child-process environment). sink receives output as it's
// produced; a runner that has no incremental output to offer (an AI
// call that returns one response) may simply not call it.
type Runner interface {
	Run(ctx context.Context, task *models.Task, exec *models.Execution, sink OutputSink) Result
}
