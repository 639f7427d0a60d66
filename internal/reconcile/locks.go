package reconcile

import (
	"sort"
	"sync"
)

// groupLocks serializes commits per revision group. Locks are created on
// demand and dropped once nobody holds or waits on them.
type groupLocks struct {
	mu    sync.Mutex
	locks map[string]*groupLock
}

type groupLock struct {
	mu   sync.Mutex
	refs int
}

func newGroupLocks() *groupLocks {
	return &groupLocks{locks: make(map[string]*groupLock)}
}

// acquire locks every named group and returns the release function.
// Groups are deduplicated and taken in sorted order so two callers locking
// overlapping sets cannot deadlock.
func (g *groupLocks) acquire(groups ...string) func() {
	keys := make([]string, 0, len(groups))
	seen := make(map[string]bool, len(groups))
	for _, k := range groups {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)

	held := make([]*groupLock, 0, len(keys))
	for _, k := range keys {
		g.mu.Lock()
		l := g.locks[k]
		if l == nil {
			l = &groupLock{}
			g.locks[k] = l
		}
		l.refs++
		g.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		g.mu.Lock()
		for _, k := range keys {
			l := g.locks[k]
			l.refs--
			if l.refs == 0 {
				delete(g.locks, k)
			}
		}
		g.mu.Unlock()
	}
}
