package smartschedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"cronpilot/internal/models"
	. "cronpilot/internal/smartschedule"
)

type fakeGenerator struct {
	expr string
	err  error
}

func (f *fakeGenerator) GenerateCronExpression(ctx context.Context, description string, constraints []byte, fallback string) (string, error) {
	return f.expr, f.err
}

func TestResolver_Resolve_UsesFreshCache(t *testing.T) {
	now := time.Now()
	gen := &fakeGenerator{expr: "should-not-be-used"}
	r := NewResolver(zap.NewNop(), gen, true)

	trig := models.Trigger{ComputedCron: "0 0 * * *", LastOptimized: &now, FallbackCron: "0 6 * * *"}
	expr, out, err := r.Resolve(context.Background(), "task-a", trig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expr != "0 0 * * *" {
		t.Fatalf("expected the cached expression to be reused, got %q", expr)
	}
	if out.ComputedCron != trig.ComputedCron {
		t.Fatal("expected the trigger to be returned unchanged on a cache hit")
	}
}

func TestResolver_Resolve_FallsBackWhenAIDisabled(t *testing.T) {
	gen := &fakeGenerator{expr: "should-not-be-used"}
	r := NewResolver(zap.NewNop(), gen, false)

	trig := models.Trigger{FallbackCron: "0 6 * * *"}
	expr, _, err := r.Resolve(context.Background(), "task-a", trig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expr != "0 6 * * *" {
		t.Fatalf("expected fallback_cron when AI is disabled, got %q", expr)
	}
}

func TestResolver_Resolve_FallsBackOnGeneratorError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	r := NewResolver(zap.NewNop(), gen, true)

	trig := models.Trigger{FallbackCron: "0 6 * * *"}
	expr, _, err := r.Resolve(context.Background(), "task-a", trig)
	if err != nil {
		t.Fatalf("a generator failure should fall back, not error, got %v", err)
	}
	if expr != "0 6 * * *" {
		t.Fatalf("expected fallback_cron on generator error, got %q", expr)
	}
}

func TestResolver_Resolve_FallsBackOnInvalidGeneratedExpression(t *testing.T) {
	gen := &fakeGenerator{expr: "not a cron expression"}
	r := NewResolver(zap.NewNop(), gen, true)

	trig := models.Trigger{FallbackCron: "0 6 * * *"}
	expr, _, err := r.Resolve(context.Background(), "task-a", trig)
	if err != nil {
		t.Fatalf("an invalid generated expression should fall back, not error, got %v", err)
	}
	if expr != "0 6 * * *" {
		t.Fatalf("expected fallback_cron when the generated expression fails to parse, got %q", expr)
	}
}

func TestResolver_Resolve_AcceptsValidGeneratedExpression(t *testing.T) {
	gen := &fakeGenerator{expr: "0 9 * * 1-5\n"}
	r := NewResolver(zap.NewNop(), gen, true)

	trig := models.Trigger{FallbackCron: "0 6 * * *", NLDescription: "weekday mornings"}
	expr, out, err := r.Resolve(context.Background(), "task-a", trig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expr != "0 9 * * 1-5" {
		t.Fatalf("expected the trimmed generated expression, got %q", expr)
	}
	if out.ComputedCron != "0 9 * * 1-5" || out.LastOptimized == nil {
		t.Fatal("expected the returned trigger to carry the computed cron and a fresh timestamp")
	}
}

func TestResolver_Resolve_RecomputesAfterCacheExpiry(t *testing.T) {
	stale := time.Now().Add(-48 * time.Hour)
	gen := &fakeGenerator{expr: "0 9 * * *"}
	r := NewResolver(zap.NewNop(), gen, true)

	trig := models.Trigger{ComputedCron: "0 0 * * *", LastOptimized: &stale, FallbackCron: "0 6 * * *"}
	expr, _, err := r.Resolve(context.Background(), "task-a", trig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expr != "0 9 * * *" {
		t.Fatalf("expected a stale cache entry to trigger regeneration, got %q", expr)
	}
}
