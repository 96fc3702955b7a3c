// Package filewatch drives file_watch-triggered tasks off a recursive
// fsnotify watcher, with dotfile exclusion, basename glob filtering,
// write-stability settling, and per-task trailing-edge debounce.
package filewatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const settlePeriod = 500 * time.Millisecond

// Dispatcher is called with the accepted change event.
type Dispatcher func(ctx context.Context, taskID uuid.UUID, eventPath string, at time.Time)

type watch struct {
	cancel    context.CancelFunc
	lastFired time.Time
	mu        sync.Mutex
}

// Source owns one fsnotify.Watcher per file_watch-triggered task.
type Source struct {
	log      *zap.Logger
	dispatch Dispatcher

	mu     sync.Mutex
	active map[uuid.UUID]*watch
}

func New(log *zap.Logger, dispatch Dispatcher) *Source {
	return &Source{log: log, dispatch: dispatch, active: make(map[uuid.UUID]*watch)}
}

// Schedule attaches a recursive watcher at root, filtering by glob
// against the changed file's basename (empty glob matches everything),
// and suppressing fires inside debounce of the last accepted event.
func (s *Source) Schedule(taskID uuid.UUID, root, glob string, debounce time.Duration) error {
	s.Stop(taskID)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filewatch: new watcher: %w", err)
	}
	if err := addRecursive(watcher, root); err != nil {
		watcher.Close()
		return fmt.Errorf("filewatch: watch %q: %w", root, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{cancel: cancel}

	s.mu.Lock()
	s.active[taskID] = w
	s.mu.Unlock()

	go s.loop(ctx, taskID, watcher, glob, debounce, w)
	return nil
}

func (s *Source) loop(ctx context.Context, taskID uuid.UUID, watcher *fsnotify.Watcher, glob string, debounce time.Duration, w *watch) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handle(ctx, taskID, watcher, ev, glob, debounce, w)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("filewatch error", zap.String("task_id", taskID.String()), zap.Error(err))
		}
	}
}

func (s *Source) handle(ctx context.Context, taskID uuid.UUID, watcher *fsnotify.Watcher, ev fsnotify.Event, glob string, debounce time.Duration, w *watch) {
	base := filepath.Base(ev.Name)

	// 1. dotfiles ignored
	for _, seg := range strings.Split(ev.Name, string(filepath.Separator)) {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return
		}
	}

	// 2. basename glob filter
	if glob != "" {
		matched, err := filepath.Match(glob, base)
		if err != nil || !matched {
			return
		}
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = addRecursive(watcher, ev.Name)
		}
	}

	// settle: wait for the file size to stop changing before accepting
	if !settled(ev.Name) {
		return
	}

	w.mu.Lock()
	since := time.Since(w.lastFired)
	if !w.lastFired.IsZero() && since < debounce {
		w.mu.Unlock()
		return
	}
	w.lastFired = time.Now()
	w.mu.Unlock()

	s.dispatch(ctx, taskID, ev.Name, time.Now())
}

func settled(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		// file already gone (e.g. rename/remove) — nothing to settle
		return true
	}
	size := info.Size()
	time.Sleep(settlePeriod)
	info2, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info2.Size() == size
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// Stop tears down taskID's watcher.
func (s *Source) Stop(taskID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.active[taskID]; ok {
		w.cancel()
		delete(s.active, taskID)
	}
}
