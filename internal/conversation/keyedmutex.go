package conversation

import "sync"

// keyedMutex serializes message handling per user. The transition table is
// read-then-write over the store, so two interleaved deliveries for the same
// user would race without it.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[int64]*lockEntry)}
}

// Lock acquires the mutex for the given user and returns its release func.
func (k *keyedMutex) Lock(userID int64) func() {
	k.mu.Lock()
	entry, ok := k.entries[userID]
	if !ok {
		entry = &lockEntry{}
		k.entries[userID] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, userID)
		}
		k.mu.Unlock()
	}
}
