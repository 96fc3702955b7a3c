// Package cronsource drives schedule-triggered tasks off a standard or
// seconds-extended cron expression in a named IANA time zone.
package cronsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Dispatcher is called on every tick of a scheduled task.
type Dispatcher func(ctx context.Context, taskID uuid.UUID)

// NextRunSetter persists the computed next_run timestamp.
type NextRunSetter func(ctx context.Context, taskID uuid.UUID, next time.Time)

// Source owns one robfig/cron engine multiplexing every schedule-
// triggered task's timer.
type Source struct {
	cr         *cron.Cron
	dispatch   Dispatcher
	setNextRun NextRunSetter
	parser     cron.Parser

	mu      sync.Mutex
	entries map[uuid.UUID]cron.EntryID
}

func New(dispatch Dispatcher, setNextRun NextRunSetter) *Source {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Source{
		cr:         cron.New(cron.WithParser(parser)),
		dispatch:   dispatch,
		setNextRun: setNextRun,
		parser:     parser,
		entries:    make(map[uuid.UUID]cron.EntryID),
	}
}

func (s *Source) Start() { s.cr.Start() }

func (s *Source) Stop() { s.cr.Stop() }

// Schedule wires taskID into the cron engine using expr, resolved in tz
// (IANA name; empty means local/UTC per robfig's default). Returns the
// next computed run time.
func (s *Source) Schedule(taskID uuid.UUID, expr, tz string) (time.Time, error) {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("cronsource: invalid cron expression %q: %w", expr, err)
	}

	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("cronsource: invalid timezone %q: %w", tz, err)
		}
		sched = &tzSchedule{loc: loc, inner: sched}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[taskID]; ok {
		s.cr.Remove(id)
	}

	id := s.cr.Schedule(sched, cron.FuncJob(func() {
		ctx := context.Background()
		s.dispatch(ctx, taskID)
		if next := s.cr.Entry(id).Next; !next.IsZero() {
			s.setNextRun(ctx, taskID, next)
		}
	}))
	s.entries[taskID] = id

	return sched.Next(time.Now()), nil
}

// Unschedule cancels taskID's timer, if any.
func (s *Source) Unschedule(taskID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[taskID]; ok {
		s.cr.Remove(id)
		delete(s.entries, taskID)
	}
}

// tzSchedule wraps a cron.Schedule to evaluate Next in loc rather than
// the time zone of the instant passed in.
type tzSchedule struct {
	loc   *time.Location
	inner cron.Schedule
}

func (t *tzSchedule) Next(now time.Time) time.Time {
	return t.inner.Next(now.In(t.loc))
}
