package registry

import (
	"sort"
	"sync"
)

// keyMutex provides per-key locking for dedup registration. Keys are locked
// in sorted order so two Register calls holding overlapping key sets cannot
// deadlock.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*refMutex)}
}

// lockKeys locks every key and returns the matching unlock function.
func (k *keyMutex) lockKeys(keys []string) func() {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	acquired := make([]*refMutex, 0, len(sorted))
	for _, key := range sorted {
		k.mu.Lock()
		m, ok := k.locks[key]
		if !ok {
			m = &refMutex{}
			k.locks[key] = m
		}
		m.refs++
		k.mu.Unlock()

		m.Lock()
		acquired = append(acquired, m)
	}

	sortedKeys := sorted
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()

			k.mu.Lock()
			acquired[i].refs--
			if acquired[i].refs == 0 {
				delete(k.locks, sortedKeys[i])
			}
			k.mu.Unlock()
		}
	}
}
