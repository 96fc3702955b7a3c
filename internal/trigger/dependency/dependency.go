// Package dependency maintains the in-memory reverse adjacency of
// dependency-triggered tasks, tracks per-dependent completed-parent
// state, validates acyclicity, and fires dependents when their join
// predicate is satisfied.
package dependency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cronpilot/internal/models"
)

// Dispatcher fires a dependent task once its join predicate is met.
type Dispatcher func(ctx context.Context, dependentID, triggeredBy, executionID uuid.UUID)

// DisabledChecker reports whether a task is currently disabled or
// missing from the catalog.
type DisabledChecker func(taskID uuid.UUID) (disabled bool)

type dependentState struct {
	parents          map[uuid.UUID]bool // declared parent set
	requireAll       bool
	debounce         time.Duration
	completedParents map[uuid.UUID]bool
	lastFiredAt      time.Time
	mu               sync.Mutex
}

// Graph is the reverse-adjacency dependency tracker.
type Graph struct {
	dispatch Dispatcher
	disabled DisabledChecker

	mu         sync.Mutex
	reverse    map[uuid.UUID][]uuid.UUID // parentID -> dependentIDs
	dependents map[uuid.UUID]*dependentState
}

func New(dispatch Dispatcher, disabled DisabledChecker) *Graph {
	return &Graph{
		dispatch:   dispatch,
		disabled:   disabled,
		reverse:    make(map[uuid.UUID][]uuid.UUID),
		dependents: make(map[uuid.UUID]*dependentState),
	}
}

// Register wires dependentID to fire once its parentIDs join predicate
// is satisfied.
func (g *Graph) Register(dependentID uuid.UUID, parentIDs []uuid.UUID, requireAll bool, debounce time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unregisterLocked(dependentID)

	parents := make(map[uuid.UUID]bool, len(parentIDs))
	for _, p := range parentIDs {
		parents[p] = true
		g.reverse[p] = append(g.reverse[p], dependentID)
	}
	g.dependents[dependentID] = &dependentState{
		parents:          parents,
		requireAll:       requireAll,
		debounce:         debounce,
		completedParents: make(map[uuid.UUID]bool),
	}
}

// Unregister removes dependentID from the graph.
func (g *Graph) Unregister(dependentID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unregisterLocked(dependentID)
}

func (g *Graph) unregisterLocked(dependentID uuid.UUID) {
	if st, ok := g.dependents[dependentID]; ok {
		for p := range st.parents {
			g.reverse[p] = removeID(g.reverse[p], dependentID)
		}
		delete(g.dependents, dependentID)
	}
}

func removeID(ids []uuid.UUID, target uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// NotifyCompleted advances dependent state after parentID's execution
// reaches a terminal state. Non-success executions never advance
// dependents — partial progress is deliberately not propagated.
func (g *Graph) NotifyCompleted(ctx context.Context, parentID uuid.UUID, execution *models.Execution) {
	if execution.Status != models.StatusSuccess {
		return
	}

	g.mu.Lock()
	dependentIDs := append([]uuid.UUID(nil), g.reverse[parentID]...)
	g.mu.Unlock()

	for _, depID := range dependentIDs {
		if g.disabled(depID) {
			continue
		}

		g.mu.Lock()
		st, ok := g.dependents[depID]
		g.mu.Unlock()
		if !ok {
			continue
		}

		st.mu.Lock()
		st.completedParents[parentID] = true
		satisfied := joinSatisfied(st)
		if !satisfied {
			st.mu.Unlock()
			continue
		}
		if time.Since(st.lastFiredAt) < st.debounce {
			// debounce still active: suppress this fire entirely, leave
			// completedParents intact for the next completion to re-check.
			st.mu.Unlock()
			continue
		}
		st.completedParents = make(map[uuid.UUID]bool)
		st.lastFiredAt = time.Now()
		st.mu.Unlock()

		g.dispatch(ctx, depID, parentID, execution.ID)
	}
}

func joinSatisfied(st *dependentState) bool {
	if st.requireAll {
		for p := range st.parents {
			if !st.completedParents[p] {
				return false
			}
		}
		return true
	}
	return len(st.completedParents) > 0
}

// CheckAcyclic runs a DFS from each dependency-triggered task over the
// reverse adjacency; any revisit on the current path is a cycle.
func CheckAcyclic(dependencyEdges map[uuid.UUID][]uuid.UUID) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[uuid.UUID]int)

	var visit func(uuid.UUID) error
	visit = func(id uuid.UUID) error {
		color[id] = gray
		for _, next := range dependencyEdges[id] {
			switch color[next] {
			case gray:
				return fmt.Errorf("dependency: cycle detected at task %s", next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range dependencyEdges {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
