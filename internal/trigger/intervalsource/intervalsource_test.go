package intervalsource_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	. "cronpilot/internal/trigger/intervalsource"
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

func TestParseEvery_ParsesEachUnit(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for expr, want := range cases {
		got, err := ParseEvery(expr)
		if err != nil {
			t.Fatalf("unexpected error parsing %q: %v", expr, err)
		}
		if got != want {
			t.Errorf("ParseEvery(%q) = %v, want %v", expr, got, want)
		}
	}
}

func TestParseEvery_RejectsMalformed(t *testing.T) {
	for _, expr := range []string{"", "10", "x5m", "5y"} {
		if _, err := ParseEvery(expr); err == nil {
			t.Errorf("expected %q to be rejected", expr)
		}
	}
}

func TestSource_Schedule_FiresImmediatelyWithNoStart(t *testing.T) {
	dispatch, count := recorder()
	s := New(dispatch)

	taskID := uuid.New()
	s.Schedule(taskID, time.Hour, nil)
	defer s.Stop(taskID)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if count() >= 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected an immediate dispatch when no start time is given")
}

func TestSource_Schedule_DelaysUntilFutureStart(t *testing.T) {
	dispatch, count := recorder()
	s := New(dispatch)
	taskID := uuid.New()
	start := time.Now().Add(300 * time.Millisecond)
	s.Schedule(taskID, time.Hour, &start)
	defer s.Stop(taskID)

	time.Sleep(100 * time.Millisecond)
	if count() != 0 {
		t.Fatalf("expected no dispatch before the start time elapses, got %d", count())
	}

	time.Sleep(400 * time.Millisecond)
	if count() < 1 {
		t.Fatal("expected a dispatch once the start time elapses")
	}
}

func TestSource_Schedule_TicksPeriodically(t *testing.T) {
	dispatch, count := recorder()
	s := New(dispatch)
	taskID := uuid.New()
	s.Schedule(taskID, 100*time.Millisecond, nil)
	defer s.Stop(taskID)

	time.Sleep(350 * time.Millisecond)
	if count() < 3 {
		t.Fatalf("expected at least 3 dispatches (immediate + 2 ticks), got %d", count())
	}
}

func TestSource_Stop_CancelsFutureDispatch(t *testing.T) {
	dispatch, count := recorder()
	s := New(dispatch)
	taskID := uuid.New()
	s.Schedule(taskID, 50*time.Millisecond, nil)

	time.Sleep(20 * time.Millisecond)
	s.Stop(taskID)
	stoppedAt := count()

	time.Sleep(250 * time.Millisecond)
	if count() != stoppedAt {
		t.Fatalf("expected no dispatch after stop, had %d before and %d after", stoppedAt, count())
	}
}

func TestSource_Schedule_ReplacesExistingTimer(t *testing.T) {
	dispatch, _ := recorder()
	s := New(dispatch)
	taskID := uuid.New()

	s.Schedule(taskID, time.Hour, nil)
	s.Schedule(taskID, time.Hour, nil)
	defer s.Stop(taskID)
}
