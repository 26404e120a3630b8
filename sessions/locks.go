package sessions

import (
	"sync"

	"github.com/ruteri/tee-key-broker/interfaces"
)

// lockTable serializes operations per session id. Each id maps to a
// refcounted mutex that exists only while an operation holds or awaits it,
// so the table does not grow with the number of historical sessions.
type lockTable struct {
	mu    sync.Mutex
	locks map[interfaces.SessionID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[interfaces.SessionID]*sessionLock)}
}

// acquire blocks until the caller holds the session's lock and returns the
// release function.
func (t *lockTable) acquire(id interfaces.SessionID) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sessionLock{}
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
