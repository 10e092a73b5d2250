package app

import (
	"slices"
	"strings"
	"sync"
)

// entityLocks serializes check-then-apply sequences per entity id. Every
// acquisition sorts and dedupes its ids so overlapping multi-entity
// operations always lock in the same order.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: map[string]*sync.Mutex{}}
}

// lockFor returns the mutex owning one entity id.
func (l *entityLocks) lockFor(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.locks[id]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.locks[id] = m
	return m
}

// Acquire locks all given entity ids in canonical order and returns the
// matching release function.
func (l *entityLocks) Acquire(ids ...string) func() {
	unique := make([]string, 0, len(ids))
	seen := map[string]struct{}{}
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	slices.Sort(unique)

	held := make([]*sync.Mutex, 0, len(unique))
	for _, id := range unique {
		m := l.lockFor(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
