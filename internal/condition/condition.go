// Package condition implements the task's pre-execution gate: a fixed,
// short-circuiting sequence of predicates over the wall clock, the
// holiday calendar, the filesystem, and the working tree.
package condition

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"cronpilot/internal/condition/holidays"
	"cronpilot/internal/models"
)

// Verdict is the result of evaluating one task's condition set.
type Verdict struct {
	Proceed bool
	Reason  string // which predicate caused the skip, empty if Proceed
}

// Evaluator runs the fixed 5-step evaluation order, short-circuiting on
// the first predicate that calls for a skip.
type Evaluator struct {
	// GitDirty reports whether repoPath's working tree has uncommitted
	// changes. Overridable in tests; defaults to a real `git status` check.
	GitDirty func(repoPath string) (bool, error)
	// RunShell executes a condition's custom shell command and returns
	// trimmed stdout. Overridable in tests; defaults to os/exec via sh -c.
	RunShell func(ctx context.Context, command string) (string, error)
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		GitDirty: defaultGitDirty,
		RunShell: defaultRunShell,
	}
}

// Evaluate runs every condition in task.Conditions in order, returning
// the first skip verdict encountered, or Proceed=true if none skip.
func (e *Evaluator) Evaluate(ctx context.Context, task *models.Task, now time.Time) Verdict {
	for _, c := range task.Conditions {
		if v := e.evalOne(ctx, c, now); !v.Proceed {
			return v
		}
	}
	return Verdict{Proceed: true}
}

func (e *Evaluator) evalOne(ctx context.Context, c models.Condition, now time.Time) Verdict {
	// 1. time window
	if c.WindowStart != "" || c.WindowEnd != "" {
		if !inWindow(c, now) {
			return Verdict{Reason: "outside time window"}
		}
	}

	// 2. holiday skip
	if c.HolidayRegion != "" {
		if holidays.IsHoliday(c.HolidayRegion, now) {
			return Verdict{Reason: "holiday: " + c.HolidayRegion}
		}
	}

	// 3. file existence
	if c.OnlyIfFileExists != "" && !fileExists(c.OnlyIfFileExists) {
		return Verdict{Reason: "required file absent: " + c.OnlyIfFileExists}
	}
	if c.SkipIfFileExists != "" && fileExists(c.SkipIfFileExists) {
		return Verdict{Reason: "skip file present: " + c.SkipIfFileExists}
	}

	// 4. working tree dirty
	if c.OnlyIfGitDirty != "" {
		dirty, err := e.GitDirty(c.OnlyIfGitDirty)
		if err != nil {
			dirty = false // a failed check is treated as clean, per spec
		}
		if !dirty {
			return Verdict{Reason: "working tree clean: " + c.OnlyIfGitDirty}
		}
	}

	// 5. custom shell comparison
	if c.SkipIfShell != "" {
		ok := e.compareShell(ctx, c.SkipIfShell, c.Operator, c.Value)
		if ok {
			return Verdict{Reason: "skip_if matched"}
		}
	}
	if c.OnlyIfShell != "" {
		ok := e.compareShell(ctx, c.OnlyIfShell, c.Operator, c.Value)
		if !ok {
			return Verdict{Reason: "only_if did not match"}
		}
	}

	return Verdict{Proceed: true}
}

// compareShell runs command and compares trimmed stdout to value using
// operator. Shell failure is treated as a false comparison.
func (e *Evaluator) compareShell(ctx context.Context, command, operator, value string) bool {
	out, err := e.RunShell(ctx, command)
	if err != nil {
		return false
	}
	out = strings.TrimSpace(out)
	return compare(out, operator, value)
}

func compare(lhs, operator, rhs string) bool {
	switch operator {
	case "==":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "<", "<=", ">", ">=":
		lf, err1 := strconv.ParseFloat(lhs, 64)
		rf, err2 := strconv.ParseFloat(rhs, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		switch operator {
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		}
	}
	return false
}

func inWindow(c models.Condition, now time.Time) bool {
	loc := time.Local
	if c.WindowTZ != "" {
		if tz, err := time.LoadLocation(c.WindowTZ); err == nil {
			loc = tz
		}
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	start := parseHHMM(c.WindowStart, 0)
	end := parseHHMM(c.WindowEnd, 24*60)

	if start <= end {
		return cur >= start && cur <= end
	}
	// overnight window: union of [start, 24:00) and [00:00, end]
	return cur >= start || cur <= end
}

func parseHHMM(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return fallback
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return fallback
	}
	return h*60 + m
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func defaultGitDirty(repoPath string) (bool, error) {
	cmd := exec.Command("git", "-C", repoPath, "status", "--porcelain")
	out, err := cmd.Output()
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

func defaultRunShell(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
