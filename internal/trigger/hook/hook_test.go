package hook_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	. "cronpilot/internal/trigger/hook"
)

type dispatchRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *dispatchRecorder) record(event string) Dispatcher {
	return func(ctx context.Context, taskID uuid.UUID, ev string, enriched Context) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, ev)
	}
}

func (r *dispatchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRouter_RejectsUnknownEvent(t *testing.T) {
	rec := &dispatchRecorder{}
	router := New(rec.record(""))

	if router.Fire(context.Background(), "NotARealEvent", Context{}) {
		t.Fatal("expected Fire to reject an unrecognized event name")
	}
	if rec.count() != 0 {
		t.Fatalf("expected no dispatch for a rejected event, got %d", rec.count())
	}
}

func TestRouter_MatcherRegexFiltersByToolName(t *testing.T) {
	rec := &dispatchRecorder{}
	router := New(rec.record(""))

	taskID := uuid.New()
	router.Register(TaskMatcher{TaskID: taskID, Event: EventPostToolUse, MatcherRE: "^Edit$"})

	if !router.Fire(context.Background(), EventPostToolUse, Context{"tool_name": "Read"}) {
		t.Fatal("expected Fire to accept a known event even when no task matches")
	}
	if rec.count() != 0 {
		t.Fatalf("tool_name %q should not match matcher ^Edit$, got %d dispatches", "Read", rec.count())
	}

	router.Fire(context.Background(), EventPostToolUse, Context{"tool_name": "Edit"})
	if rec.count() != 1 {
		t.Fatalf("expected one dispatch for a matching tool_name, got %d", rec.count())
	}
}

func TestRouter_Debounce_CoalescesRapidFires(t *testing.T) {
	rec := &dispatchRecorder{}
	router := New(rec.record(""))

	taskID := uuid.New()
	router.Register(TaskMatcher{TaskID: taskID, Event: EventNotification, Debounce: 30 * time.Millisecond})

	router.Fire(context.Background(), EventNotification, Context{"n": 1})
	router.Fire(context.Background(), EventNotification, Context{"n": 2})
	router.Fire(context.Background(), EventNotification, Context{"n": 3})

	time.Sleep(80 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Fatalf("expected the trailing-edge debounce to coalesce 3 rapid fires into 1 dispatch, got %d", got)
	}
}

func TestRouter_Unregister_StopsMatching(t *testing.T) {
	rec := &dispatchRecorder{}
	router := New(rec.record(""))

	taskID := uuid.New()
	router.Register(TaskMatcher{TaskID: taskID, Event: EventStop})
	router.Unregister(taskID)

	router.Fire(context.Background(), EventStop, Context{})
	if rec.count() != 0 {
		t.Fatalf("expected no dispatch after Unregister, got %d", rec.count())
	}
}

func TestIsValidEvent(t *testing.T) {
	if !IsValidEvent(EventSessionStart) {
		t.Error("SessionStart should be a valid event")
	}
	if IsValidEvent("NotAnEvent") {
		t.Error("an unrecognized name should not be a valid event")
	}
}
