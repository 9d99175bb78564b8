package sale

import "sync"

// lockTable hands out one mutex per sale. Entries are reference counted and
// dropped once the last holder releases them.
type lockTable struct {
	mu    sync.Mutex
	locks map[[32]byte]*saleLock
}

type saleLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[[32]byte]*saleLock)}
}

func (t *lockTable) acquire(id [32]byte) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &saleLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}
