// Package executor dispatches a task to the runner registered for its
// kind. This mirrors the teacher's single Executor loop, but generalized
// from one fixed shell runner to a kind-keyed registry so AI-backed task
// kinds can plug in alongside shell.
package executor

import (
	"context"
	"fmt"

	"cronpilot/internal/executor/runner"
	"cronpilot/internal/models"
)

// Registry maps a task kind to the runner that executes it.
type Registry struct {
	runners map[models.TaskKind]runner.Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[models.TaskKind]runner.Runner)}
}

// Register installs r as the runner for kind, replacing any prior entry.
func (reg *Registry) Register(kind models.TaskKind, r runner.Runner) {
	reg.runners[kind] = r
}

// Run dispatches task to its registered runner. A nil sink is replaced
// with a no-op one so individual runners never need a nil check.
func (reg *Registry) Run(ctx context.Context, task *models.Task, exec *models.Execution, sink runner.OutputSink) (runner.Result, error) {
	r, ok := reg.runners[task.Kind]
	if !ok {
		return runner.Result{}, fmt.Errorf("executor: no runner registered for kind %q", task.Kind)
	}
	if sink == nil {
		sink = runner.NopSink{}
	}
	return r.Run(ctx, task, exec, sink), nil
}
