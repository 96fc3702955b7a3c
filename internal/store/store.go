// Package store defines the persistence boundary for tasks, executions,
// and dependency edges. Two backends satisfy it: sqlitestore (local,
// single-writer) and postgresstore (pooled, remote).
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cronpilot/internal/models"
)

// TaskStore is the catalog half of the persistence boundary.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
	ListTasks(ctx context.Context, limit, offset int) ([]models.Task, error)

	// ListDue finds enabled tasks whose NextRun has elapsed.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]models.Task, error)

	// UpdateNextRun advances the schedule pointer for a task.
	UpdateNextRun(ctx context.Context, id uuid.UUID, next time.Time) error

	// IncrementCounters bumps the rolling run/outcome counters on a task.
	IncrementCounters(ctx context.Context, id uuid.UUID, status models.ExecutionStatus) error

	// GetTaskStats aggregates a task's execution history.
	GetTaskStats(ctx context.Context, id uuid.UUID) (*models.TaskStats, error)
}

// ExecutionStore is the history half of the persistence boundary.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error)
	UpdateExecution(ctx context.Context, exec *models.Execution) error

	// ListForTask returns executions for a task, most recent first.
	ListForTask(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]models.Execution, error)

	// ListRecentByStatus returns executions in a status since a cutoff.
	ListRecentByStatus(ctx context.Context, status models.ExecutionStatus, since time.Time, limit int) ([]models.Execution, error)

	// MarkOrphansFailed fails executions left RUNNING across a restart.
	MarkOrphansFailed(ctx context.Context) (int64, error)

	// AppendOutput atomically concatenates text onto an execution's output
	// column. Observers reading between appends see a prefix, never a
	// torn write.
	AppendOutput(ctx context.Context, execID uuid.UUID, text string) error

	// AppendThinking atomically concatenates text onto an execution's
	// thinking_output column, under the same no-torn-write guarantee as
	// AppendOutput.
	AppendThinking(ctx context.Context, execID uuid.UUID, text string) error
}

// DependencyStore manages the persisted parent->child adjacency used to
// rebuild the in-memory dependency graph at startup.
type DependencyStore interface {
	CreateDependency(ctx context.Context, dep *models.Dependency) error
	DeleteDependency(ctx context.Context, parentID, childID uuid.UUID) error
	ListDependents(ctx context.Context, parentID uuid.UUID) ([]models.Dependency, error)
	ListDependencies(ctx context.Context, childID uuid.UUID) ([]models.Dependency, error)
	ListAllDependencies(ctx context.Context) ([]models.Dependency, error)
}

// Store is the full persistence surface the engine depends on.
type Store interface {
	TaskStore
	ExecutionStore
	DependencyStore
	Close() error
}
