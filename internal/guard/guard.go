// Package guard implements the referential check that precedes every soft delete.
//
// A Guard holds, per entity type, the queries that count active dependents of a row.
// Counters receive the caller's query handle Q (usually a transaction-bound repository)
// so the count and the flag flip observe the same snapshot and locks.
package guard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/storefront/storefront/internal/shared"
)

// EntityType names a guarded table.
type EntityType string

const (
	EntityProduct  EntityType = "product"
	EntityCategory EntityType = "category"
	EntityBrand    EntityType = "brand"
)

// ChildCounter counts active dependents of id.
type ChildCounter[Q any] func(ctx context.Context, q Q, id int64) (int, error)

// Blocker reports a dependent kind that prevents deactivation.
type Blocker struct {
	Child string
	Count int
}

type namedCounter[Q any] struct {
	child   string
	counter ChildCounter[Q]
}

// Guard evaluates registered counters.
type Guard[Q any] struct {
	mu       sync.RWMutex
	counters map[EntityType][]namedCounter[Q]
}

// New constructs an empty Guard.
func New[Q any]() *Guard[Q] {
	return &Guard[Q]{counters: make(map[EntityType][]namedCounter[Q])}
}

// Register adds a dependent query for entity. Entities without counters are never blocked.
func (g *Guard[Q]) Register(entity EntityType, child string, counter ChildCounter[Q]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[entity] = append(g.counters[entity], namedCounter[Q]{child: child, counter: counter})
}

// Blockers returns every dependent kind with at least one active row, sorted by name.
func (g *Guard[Q]) Blockers(ctx context.Context, q Q, entity EntityType, id int64) ([]Blocker, error) {
	g.mu.RLock()
	counters := append([]namedCounter[Q](nil), g.counters[entity]...)
	g.mu.RUnlock()

	var blockers []Blocker
	for _, c := range counters {
		n, err := c.counter(ctx, q, id)
		if err != nil {
			return nil, fmt.Errorf("guard: count %s of %s %d: %w", c.child, entity, id, err)
		}
		if n > 0 {
			blockers = append(blockers, Blocker{Child: c.child, Count: n})
		}
	}
	sort.Slice(blockers, func(i, j int) bool { return blockers[i].Child < blockers[j].Child })
	return blockers, nil
}

// CanDeactivate reports whether entity id has no active dependents.
func (g *Guard[Q]) CanDeactivate(ctx context.Context, q Q, entity EntityType, id int64) (bool, error) {
	blockers, err := g.Blockers(ctx, q, entity, id)
	if err != nil {
		return false, err
	}
	return len(blockers) == 0, nil
}

// Deactivate runs flip only when no dependents block it; otherwise it returns
// ErrReferentialConflict and flip is not called.
func (g *Guard[Q]) Deactivate(ctx context.Context, q Q, entity EntityType, id int64, flip func(context.Context, Q) error) error {
	blockers, err := g.Blockers(ctx, q, entity, id)
	if err != nil {
		return err
	}
	if len(blockers) > 0 {
		return &ConflictError{Entity: entity, ID: id, Blockers: blockers}
	}
	return flip(ctx, q)
}

// ConflictError lists blocking dependents and matches shared.ErrReferentialConflict.
type ConflictError struct {
	Entity   EntityType
	ID       int64
	Blockers []Blocker
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Blockers))
	for _, b := range e.Blockers {
		parts = append(parts, fmt.Sprintf("%d active %s", b.Count, b.Child))
	}
	return fmt.Sprintf("%s %d %s: %s", e.Entity, e.ID, shared.ErrReferentialConflict, strings.Join(parts, ", "))
}

// Is makes errors.Is(err, shared.ErrReferentialConflict) succeed.
func (e *ConflictError) Is(target error) bool {
	return target == shared.ErrReferentialConflict
}
