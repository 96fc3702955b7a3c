package condition_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "cronpilot/internal/condition"
	"cronpilot/internal/models"
)

func taskWith(conditions ...models.Condition) *models.Task {
	return &models.Task{Conditions: conditions}
}

func TestEvaluator_Evaluate_ProceedsWithNoConditions(t *testing.T) {
	e := NewEvaluator()
	v := e.Evaluate(context.Background(), taskWith(), time.Now())
	if !v.Proceed {
		t.Fatalf("expected an empty condition list to proceed, got %+v", v)
	}
}

func TestEvaluator_Evaluate_OnlyIfFileExistsSkipsWhenAbsent(t *testing.T) {
	e := NewEvaluator()
	task := taskWith(models.Condition{OnlyIfFileExists: filepath.Join(t.TempDir(), "missing.flag")})
	v := e.Evaluate(context.Background(), task, time.Now())
	if v.Proceed {
		t.Fatal("expected a missing required file to skip the run")
	}
}

func TestEvaluator_Evaluate_OnlyIfFileExistsProceedsWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.flag")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewEvaluator()
	v := e.Evaluate(context.Background(), taskWith(models.Condition{OnlyIfFileExists: path}), time.Now())
	if !v.Proceed {
		t.Fatalf("expected a present required file to proceed, got %+v", v)
	}
}

func TestEvaluator_Evaluate_SkipIfFileExistsSkipsWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stop.flag")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewEvaluator()
	v := e.Evaluate(context.Background(), taskWith(models.Condition{SkipIfFileExists: path}), time.Now())
	if v.Proceed {
		t.Fatal("expected a present skip-file to skip the run")
	}
}

func TestEvaluator_Evaluate_TimeWindowRestrictsToRange(t *testing.T) {
	e := NewEvaluator()
	task := taskWith(models.Condition{WindowStart: "09:00", WindowEnd: "17:00", WindowTZ: "UTC"})

	inside := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	if v := e.Evaluate(context.Background(), task, inside); !v.Proceed {
		t.Fatalf("expected noon to be inside the 09:00-17:00 window, got %+v", v)
	}

	outside := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	if v := e.Evaluate(context.Background(), task, outside); v.Proceed {
		t.Fatal("expected 20:00 to be outside the 09:00-17:00 window")
	}
}

func TestEvaluator_Evaluate_OvernightWindowWraps(t *testing.T) {
	e := NewEvaluator()
	task := taskWith(models.Condition{WindowStart: "22:00", WindowEnd: "02:00", WindowTZ: "UTC"})

	late := time.Date(2026, 1, 5, 23, 30, 0, 0, time.UTC)
	if v := e.Evaluate(context.Background(), task, late); !v.Proceed {
		t.Fatalf("expected 23:30 to be inside an overnight window, got %+v", v)
	}

	midday := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	if v := e.Evaluate(context.Background(), task, midday); v.Proceed {
		t.Fatal("expected midday to be outside an overnight window")
	}
}

func TestEvaluator_Evaluate_OnlyIfGitDirtyUsesInjectedCheck(t *testing.T) {
	e := NewEvaluator()
	e.GitDirty = func(repoPath string) (bool, error) { return false, nil }
	task := taskWith(models.Condition{OnlyIfGitDirty: "/some/repo"})
	if v := e.Evaluate(context.Background(), task, time.Now()); v.Proceed {
		t.Fatal("expected a clean working tree to skip an only_if_git_dirty condition")
	}

	e.GitDirty = func(repoPath string) (bool, error) { return true, nil }
	if v := e.Evaluate(context.Background(), task, time.Now()); !v.Proceed {
		t.Fatal("expected a dirty working tree to proceed")
	}
}

func TestEvaluator_Evaluate_GitDirtyCheckErrorTreatedAsClean(t *testing.T) {
	e := NewEvaluator()
	e.GitDirty = func(repoPath string) (bool, error) { return true, errors.New("not a repo") }
	task := taskWith(models.Condition{OnlyIfGitDirty: "/some/repo"})
	if v := e.Evaluate(context.Background(), task, time.Now()); v.Proceed {
		t.Fatal("expected a failed git-dirty check to be treated as clean, skipping the run")
	}
}

func TestEvaluator_Evaluate_OnlyIfShellComparesOutput(t *testing.T) {
	e := NewEvaluator()
	e.RunShell = func(ctx context.Context, command string) (string, error) { return "42", nil }

	task := taskWith(models.Condition{OnlyIfShell: "echo 42", Operator: "==", Value: "42"})
	if v := e.Evaluate(context.Background(), task, time.Now()); !v.Proceed {
		t.Fatalf("expected a matching only_if_shell comparison to proceed, got %+v", v)
	}

	task = taskWith(models.Condition{OnlyIfShell: "echo 42", Operator: "==", Value: "7"})
	if v := e.Evaluate(context.Background(), task, time.Now()); v.Proceed {
		t.Fatal("expected a non-matching only_if_shell comparison to skip")
	}
}

func TestEvaluator_Evaluate_SkipIfShellNumericComparison(t *testing.T) {
	e := NewEvaluator()
	e.RunShell = func(ctx context.Context, command string) (string, error) { return "10", nil }

	task := taskWith(models.Condition{SkipIfShell: "count", Operator: ">", Value: "5"})
	if v := e.Evaluate(context.Background(), task, time.Now()); v.Proceed {
		t.Fatal("expected skip_if_shell with a matching numeric comparison to skip")
	}
}

func TestEvaluator_Evaluate_ShellFailureTreatedAsFalse(t *testing.T) {
	e := NewEvaluator()
	e.RunShell = func(ctx context.Context, command string) (string, error) { return "", errors.New("boom") }

	task := taskWith(models.Condition{OnlyIfShell: "false", Operator: "==", Value: "anything"})
	if v := e.Evaluate(context.Background(), task, time.Now()); v.Proceed {
		t.Fatal("expected a failed shell command to be treated as a non-match, skipping only_if")
	}
}

func TestEvaluator_Evaluate_ShortCircuitsOnFirstSkip(t *testing.T) {
	e := NewEvaluator()
	calledSecond := false
	task := taskWith(
		models.Condition{OnlyIfFileExists: filepath.Join(t.TempDir(), "missing.flag")},
		models.Condition{OnlyIfShell: "echo x", Operator: "==", Value: "x"},
	)
	e.RunShell = func(ctx context.Context, command string) (string, error) {
		calledSecond = true
		return "x", nil
	}

	v := e.Evaluate(context.Background(), task, time.Now())
	if v.Proceed {
		t.Fatal("expected the first failing condition to skip the run")
	}
	if calledSecond {
		t.Fatal("expected evaluation to stop at the first skip, not evaluate later conditions")
	}
}
