// Package locker provides mutexes keyed by string, allocated on demand and
// released once nobody holds or waits on them.
package locker

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock blocks until the mutex for key is held and returns its unlock func.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// Len reports how many keys currently have holders or waiters.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
