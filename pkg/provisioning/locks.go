package provisioning

import "sync"

// lockTable hands out per-key mutexes. Entries are refcounted and dropped
// once the last holder releases, so the table stays bounded by the number of
// keys currently contended.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the key's lock is held and returns the release func.
func (t *lockTable) acquire(key string) func() {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		entry = &lockEntry{}
		t.entries[key] = entry
	}
	entry.refs++
	t.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		t.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(t.entries, key)
		}
		t.mu.Unlock()
	}
}
