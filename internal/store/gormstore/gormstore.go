// Package gormstore implements the store.Store surface once, against a
// *gorm.DB, so the sqlite (local) and postgres (pooled) backends differ
// only in how they open and tune that connection.
package gormstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cronpilot/internal/errs"
	"cronpilot/internal/models"
)

// Store is a gorm-backed implementation of store.Store. WriteMu, when
// non-nil, serializes writes — sqlitestore sets it since a single
// sqlite file accepts one writer at a time even under WAL.
type Store struct {
	DB      *gorm.DB
	WriteMu *sync.Mutex
}

func (s *Store) lockWrite() func() {
	if s.WriteMu == nil {
		return func() {}
	}
	s.WriteMu.Lock()
	return s.WriteMu.Unlock
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	defer s.lockWrite()()
	if err := s.DB.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("gormstore: create task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	err := s.DB.WithContext(ctx).First(&task, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: get task: %w", err)
	}
	return &task, nil
}

func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	defer s.lockWrite()()
	result := s.DB.WithContext(ctx).Model(&models.Task{}).Where("id = ?", task.ID).Updates(task)
	if result.Error != nil {
		return fmt.Errorf("gormstore: update task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	defer s.lockWrite()()
	result := s.DB.WithContext(ctx).Delete(&models.Task{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("gormstore: delete task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, limit, offset int) ([]models.Task, error) {
	var tasks []models.Task
	err := s.DB.WithContext(ctx).Order("created_at desc").Limit(limit).Offset(offset).Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) ListDue(ctx context.Context, asOf time.Time, limit int) ([]models.Task, error) {
	var tasks []models.Task
	err := s.DB.WithContext(ctx).
		Where("enabled = ?", true).
		Where("next_run <= ?", asOf).
		Order("next_run asc").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list due: %w", err)
	}
	return tasks, nil
}

func (s *Store) UpdateNextRun(ctx context.Context, id uuid.UUID, next time.Time) error {
	defer s.lockWrite()()
	result := s.DB.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Update("next_run", next)
	if result.Error != nil {
		return fmt.Errorf("gormstore: update next run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementCounters(ctx context.Context, id uuid.UUID, status models.ExecutionStatus) error {
	defer s.lockWrite()()
	col := counterColumn(status)
	updates := map[string]interface{}{
		"run_count": gorm.Expr("run_count + 1"),
		"last_run":  time.Now().UTC(),
	}
	if col != "" {
		updates[col] = gorm.Expr(col + " + 1")
	}
	result := s.DB.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("gormstore: increment counters: %w", result.Error)
	}
	return nil
}

func counterColumn(status models.ExecutionStatus) string {
	switch status {
	case models.StatusSuccess:
		return "success_count"
	case models.StatusFailure:
		return "failure_count"
	case models.StatusSkipped:
		return "skipped_count"
	case models.StatusCancelled:
		return "cancelled_count"
	case models.StatusTimeout:
		return "timeout_count"
	default:
		return ""
	}
}

// GetTaskStats aggregates run counts, average duration, and accrued cost
// from the execution history, computed by an aggregate query rather than
// the rolling counters on Task (which don't track duration or cost).
func (s *Store) GetTaskStats(ctx context.Context, id uuid.UUID) (*models.TaskStats, error) {
	var stats models.TaskStats
	err := s.DB.WithContext(ctx).
		Model(&models.Execution{}).
		Select(
			"COUNT(*) AS total_runs, "+
				"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS successful_runs, "+
				"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed_runs, "+
				"COALESCE(AVG(duration_ms), 0) AS avg_duration_ms, "+
				"COALESCE(SUM(cost_usd), 0) AS total_cost_usd",
			models.StatusSuccess, models.StatusFailure,
		).
		Where("task_id = ?", id).
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: get task stats: %w", err)
	}
	return &stats, nil
}

// AppendOutput atomically concatenates text onto an execution's output
// column via COALESCE(output, "") || ?. The update is a single statement
// under the write lock, so concurrent appends never interleave and a
// reader never observes a torn write.
func (s *Store) AppendOutput(ctx context.Context, execID uuid.UUID, text string) error {
	defer s.lockWrite()()
	result := s.DB.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", execID).
		Update("output", gorm.Expr("COALESCE(output,'') || ?", text))
	if result.Error != nil {
		return fmt.Errorf("gormstore: append output: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// AppendThinking is AppendOutput's counterpart for the thinking_output
// column. Kept as a distinct operation, not merged with AppendOutput,
// since the two streams interleave independently during a run.
func (s *Store) AppendThinking(ctx context.Context, execID uuid.UUID, text string) error {
	defer s.lockWrite()()
	result := s.DB.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", execID).
		Update("thinking_output", gorm.Expr("COALESCE(thinking_output,'') || ?", text))
	if result.Error != nil {
		return fmt.Errorf("gormstore: append thinking: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Store) CreateExecution(ctx context.Context, exec *models.Execution) error {
	defer s.lockWrite()()
	if err := s.DB.WithContext(ctx).Create(exec).Error; err != nil {
		return fmt.Errorf("gormstore: create execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	var exec models.Execution
	err := s.DB.WithContext(ctx).First(&exec, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: get execution: %w", err)
	}
	return &exec, nil
}

func (s *Store) UpdateExecution(ctx context.Context, exec *models.Execution) error {
	defer s.lockWrite()()
	result := s.DB.WithContext(ctx).Model(&models.Execution{}).Where("id = ?", exec.ID).Updates(exec)
	if result.Error != nil {
		return fmt.Errorf("gormstore: update execution: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Store) ListForTask(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]models.Execution, error) {
	var execs []models.Execution
	err := s.DB.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at desc").
		Limit(limit).
		Offset(offset).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list for task: %w", err)
	}
	return execs, nil
}

func (s *Store) ListRecentByStatus(ctx context.Context, status models.ExecutionStatus, since time.Time, limit int) ([]models.Execution, error) {
	var execs []models.Execution
	err := s.DB.WithContext(ctx).
		Where("status = ?", status).
		Where("started_at >= ?", since).
		Order("started_at desc").
		Limit(limit).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list recent by status: %w", err)
	}
	return execs, nil
}

func (s *Store) MarkOrphansFailed(ctx context.Context) (int64, error) {
	defer s.lockWrite()()
	result := s.DB.WithContext(ctx).
		Model(&models.Execution{}).
		Where("status = ?", models.StatusRunning).
		Updates(map[string]interface{}{
			"status":       models.StatusFailure,
			"error":        "orphaned: process restarted mid-execution",
			"completed_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (s *Store) CreateDependency(ctx context.Context, dep *models.Dependency) error {
	defer s.lockWrite()()
	if err := s.DB.WithContext(ctx).Create(dep).Error; err != nil {
		return fmt.Errorf("gormstore: create dependency: %w", err)
	}
	return nil
}

func (s *Store) DeleteDependency(ctx context.Context, parentID, childID uuid.UUID) error {
	defer s.lockWrite()()
	result := s.DB.WithContext(ctx).
		Where("parent_task_id = ? AND child_task_id = ?", parentID, childID).
		Delete(&models.Dependency{})
	if result.Error != nil {
		return fmt.Errorf("gormstore: delete dependency: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Store) ListDependents(ctx context.Context, parentID uuid.UUID) ([]models.Dependency, error) {
	var deps []models.Dependency
	err := s.DB.WithContext(ctx).Where("parent_task_id = ?", parentID).Find(&deps).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list dependents: %w", err)
	}
	return deps, nil
}

func (s *Store) ListDependencies(ctx context.Context, childID uuid.UUID) ([]models.Dependency, error) {
	var deps []models.Dependency
	err := s.DB.WithContext(ctx).Where("child_task_id = ?", childID).Find(&deps).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list dependencies: %w", err)
	}
	return deps, nil
}

func (s *Store) ListAllDependencies(ctx context.Context) ([]models.Dependency, error) {
	var deps []models.Dependency
	err := s.DB.WithContext(ctx).Find(&deps).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list all dependencies: %w", err)
	}
	return deps, nil
}

// Migrate runs AutoMigrate for the catalog schema. Exported so both
// backend constructors can share the migration call.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Task{}, &models.Execution{}, &models.Dependency{})
}
