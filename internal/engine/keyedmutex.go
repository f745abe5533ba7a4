package engine

import "sync"

// keyedMutex hands out one mutex per key. Entries are reference counted and
// removed when the last holder unlocks, so the map only holds keys that are
// in use.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns the function that releases it.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	ent, ok := k.locks[key]
	if !ok {
		ent = &keyedEntry{}
		k.locks[key] = ent
	}
	ent.refs++
	k.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		k.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of keys currently held or waited for.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
