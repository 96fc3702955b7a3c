// Package hook is the sole entry point for externally-injected lifecycle
// events. It enriches, matches, debounces, and dispatches them to
// hook-triggered tasks.
package hook

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cronpilot/internal/models"
)

// Event names form a closed set; the router rejects anything else.
const (
	EventSessionStart     = "SessionStart"
	EventSessionEnd       = "SessionEnd"
	EventPreToolUse       = "PreToolUse"
	EventPostToolUse      = "PostToolUse"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventNotification     = "Notification"
	EventStop             = "Stop"
	EventSubagentStop     = "SubagentStop"
	EventPreCompact       = "PreCompact"
)

var validEvents = map[string]bool{
	EventSessionStart: true, EventSessionEnd: true, EventPreToolUse: true,
	EventPostToolUse: true, EventUserPromptSubmit: true, EventNotification: true,
	EventStop: true, EventSubagentStop: true, EventPreCompact: true,
}

// IsValidEvent reports whether name is a recognized hook event.
func IsValidEvent(name string) bool { return validEvents[name] }

// Context is the enriched payload carried alongside a hook event.
type Context map[string]interface{}

// Dispatcher fires a hook-triggered task.
type Dispatcher func(ctx context.Context, taskID uuid.UUID, event string, enriched Context)

// TaskMatcher describes a hook-triggered task in the shape the router
// needs for matching, decoupled from the models.Task it came from.
type TaskMatcher struct {
	TaskID     uuid.UUID
	Event      string
	MatcherRE  string
	Conditions *models.HookConditions
	Debounce   time.Duration
}

// Router matches and debounces hook events against registered tasks.
type Router struct {
	dispatch Dispatcher

	mu     sync.Mutex
	tasks  map[uuid.UUID]TaskMatcher
	timers map[string]*time.Timer // key: taskID+event
}

func New(dispatch Dispatcher) *Router {
	return &Router{
		dispatch: dispatch,
		tasks:    make(map[uuid.UUID]TaskMatcher),
		timers:   make(map[string]*time.Timer),
	}
}

// Register adds or replaces a hook-triggered task's matcher.
func (r *Router) Register(m TaskMatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[m.TaskID] = m
}

// Unregister removes a task from consideration.
func (r *Router) Unregister(taskID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
}

// Fire enriches raw, matches it against every registered task, and
// debounces/dispatches the ones that match. Returns false if event is
// not in the closed event set.
func (r *Router) Fire(ctx context.Context, event string, raw Context) bool {
	if !validEvents[event] {
		return false
	}
	enriched := r.enrich(event, raw)

	r.mu.Lock()
	matches := make([]TaskMatcher, 0)
	for _, m := range r.tasks {
		if m.Event == event && matchConditions(m, enriched) {
			matches = append(matches, m)
		}
	}
	r.mu.Unlock()

	for _, m := range matches {
		r.debouncedDispatch(ctx, m, event, enriched)
	}
	return true
}

func (r *Router) enrich(event string, raw Context) Context {
	enriched := Context{}
	for k, v := range raw {
		enriched[k] = v
	}
	if _, ok := enriched["session_id"]; !ok {
		if sid := os.Getenv("CLAUDE_SESSION_ID"); sid != "" {
			enriched["session_id"] = sid
		} else {
			enriched["session_id"] = "unknown"
		}
	}
	if _, ok := enriched["timestamp"]; !ok {
		enriched["timestamp"] = time.Now()
	}

	if event == EventPreToolUse || event == EventPostToolUse {
		if fp, ok := enriched["file_path"].(string); ok && fp != "" {
			if branch, err := gitBranch(fp); err == nil {
				enriched["git_branch"] = branch
			}
			if dirty, err := gitDirty(fp); err == nil {
				enriched["git_dirty"] = dirty
			}
		}
	}
	return enriched
}

func matchConditions(m TaskMatcher, ctx Context) bool {
	if m.MatcherRE != "" {
		toolName, _ := ctx["tool_name"].(string)
		if toolName != "" {
			re, err := regexp.Compile(m.MatcherRE)
			if err != nil || !re.MatchString(toolName) {
				return false
			}
		}
	}

	if m.Conditions == nil {
		return true
	}
	c := m.Conditions

	if len(c.Source) > 0 {
		if src, ok := ctx["source"].(string); ok && src != "" && !contains(c.Source, src) {
			return false
		}
	}
	if c.FilePattern != "" {
		if fp, ok := ctx["file_path"].(string); ok && fp != "" {
			re, err := regexp.Compile(c.FilePattern)
			if err != nil || !re.MatchString(fp) {
				return false
			}
		}
	}
	if len(c.ToolNames) > 0 {
		if tn, ok := ctx["tool_name"].(string); ok && tn != "" && !contains(c.ToolNames, tn) {
			return false
		}
	}
	if len(c.SubagentNames) > 0 {
		if sn, ok := ctx["subagent_name"].(string); ok && sn != "" && !contains(c.SubagentNames, sn) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (r *Router) debouncedDispatch(ctx context.Context, m TaskMatcher, event string, enriched Context) {
	if m.Debounce <= 0 {
		r.dispatch(ctx, m.TaskID, event, enriched)
		return
	}

	key := m.TaskID.String() + ":" + event

	r.mu.Lock()
	if t, ok := r.timers[key]; ok {
		t.Stop()
	}
	r.timers[key] = time.AfterFunc(m.Debounce, func() {
		r.dispatch(ctx, m.TaskID, event, enriched)
		r.mu.Lock()
		delete(r.timers, key)
		r.mu.Unlock()
	})
	r.mu.Unlock()
}

func gitBranch(path string) (string, error) {
	out, err := exec.Command("git", "-C", parentDir(path), "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func gitDirty(path string) (bool, error) {
	out, err := exec.Command("git", "-C", parentDir(path), "status", "--porcelain").Output()
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

func parentDir(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[:idx]
	}
	return "."
}
