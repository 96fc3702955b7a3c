// Package intervalsource drives interval-triggered tasks: an optional
// initial delay until a fixed start time, then a steady periodic tick.
package intervalsource

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

var everyRE = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseEvery parses the "<n><unit>" grammar (s/m/h/d) into a duration.
func ParseEvery(every string) (time.Duration, error) {
	m := everyRE.FindStringSubmatch(every)
	if m == nil {
		return 0, fmt.Errorf("intervalsource: invalid interval %q", every)
	}
	n, _ := strconv.Atoi(m[1])
	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}

// Dispatcher is called on every tick of an interval-triggered task.
type Dispatcher func(ctx context.Context, taskID uuid.UUID)

type taskTimer struct {
	cancel context.CancelFunc
}

// Source owns one goroutine per interval-triggered task.
type Source struct {
	dispatch Dispatcher

	mu     sync.Mutex
	timers map[uuid.UUID]*taskTimer
}

func New(dispatch Dispatcher) *Source {
	return &Source{dispatch: dispatch, timers: make(map[uuid.UUID]*taskTimer)}
}

// Schedule arms taskID's initial-delay then periodic tick. If start is
// zero or in the past, the first fire happens immediately.
func (s *Source) Schedule(taskID uuid.UUID, every time.Duration, start *time.Time) {
	s.Stop(taskID)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.timers[taskID] = &taskTimer{cancel: cancel}
	s.mu.Unlock()

	var initialDelay time.Duration
	if start != nil && start.After(time.Now()) {
		initialDelay = time.Until(*start)
	}

	go s.run(ctx, taskID, every, initialDelay)
}

func (s *Source) run(ctx context.Context, taskID uuid.UUID, every, initialDelay time.Duration) {
	if initialDelay > 0 {
		t := time.NewTimer(initialDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	s.dispatch(ctx, taskID)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, taskID)
		}
	}
}

// Stop cancels taskID's currently armed timer, whether it is still in
// its initial delay or already ticking periodically.
func (s *Source) Stop(taskID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[taskID]; ok {
		t.cancel()
		delete(s.timers, taskID)
	}
}
