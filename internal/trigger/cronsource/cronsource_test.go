package cronsource_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	. "cronpilot/internal/trigger/cronsource"
)

func recorder() (Dispatcher, func() int) {
	var mu sync.Mutex
	count := 0
	return func(ctx context.Context, taskID uuid.UUID) {
			mu.Lock()
			count++
			mu.Unlock()
		}, func() int {
			mu.Lock()
			defer mu.Unlock()
			return count
		}
}

func TestSource_Schedule_RejectsInvalidExpression(t *testing.T) {
	s := New(func(context.Context, uuid.UUID) {}, func(context.Context, uuid.UUID, time.Time) {})
	if _, err := s.Schedule(uuid.New(), "not a cron expr", ""); err == nil {
		t.Fatal("expected an invalid cron expression to be rejected")
	}
}

func TestSource_Schedule_RejectsInvalidTimezone(t *testing.T) {
	s := New(func(context.Context, uuid.UUID) {}, func(context.Context, uuid.UUID, time.Time) {})
	if _, err := s.Schedule(uuid.New(), "* * * * *", "Not/AZone"); err == nil {
		t.Fatal("expected an invalid timezone to be rejected")
	}
}

func TestSource_Schedule_ReturnsFutureNextRun(t *testing.T) {
	s := New(func(context.Context, uuid.UUID) {}, func(context.Context, uuid.UUID, time.Time) {})
	next, err := s.Schedule(uuid.New(), "* * * * *", "")
	if err != nil {
		t.Fatalf("unexpected error scheduling a valid cron expression: %v", err)
	}
	if !next.After(time.Now()) {
		t.Fatalf("expected the computed next run to be in the future, got %v", next)
	}
}

func TestSource_Schedule_FiresOnEverySecondTick(t *testing.T) {
	dispatch, count := recorder()
	s := New(dispatch, func(context.Context, uuid.UUID, time.Time) {})
	s.Start()
	defer s.Stop()

	taskID := uuid.New()
	if _, err := s.Schedule(taskID, "* * * * * *", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if count() >= 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected at least one dispatch within the deadline")
}

func TestSource_Unschedule_StopsFutureDispatch(t *testing.T) {
	dispatch, count := recorder()
	s := New(dispatch, func(context.Context, uuid.UUID, time.Time) {})
	s.Start()
	defer s.Stop()

	taskID := uuid.New()
	if _, err := s.Schedule(taskID, "* * * * * *", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Unschedule(taskID)

	time.Sleep(1500 * time.Millisecond)
	if count() != 0 {
		t.Fatalf("expected no dispatch after unschedule, got %d", count())
	}
}

func TestSource_Schedule_ReplacesExistingEntry(t *testing.T) {
	s := New(func(context.Context, uuid.UUID) {}, func(context.Context, uuid.UUID, time.Time) {})
	taskID := uuid.New()

	if _, err := s.Schedule(taskID, "0 0 * * *", ""); err != nil {
		t.Fatalf("unexpected error on first schedule: %v", err)
	}
	if _, err := s.Schedule(taskID, "0 12 * * *", ""); err != nil {
		t.Fatalf("unexpected error rescheduling the same task: %v", err)
	}
}
