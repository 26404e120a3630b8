package sessions

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockTableSerializesSameID(t *testing.T) {
	table := newLockTable()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := table.acquire("session-a")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestLockTableIndependentIDs(t *testing.T) {
	table := newLockTable()

	unlockA := table.acquire("session-a")

	done := make(chan struct{})
	go func() {
		unlockB := table.acquire("session-b")
		unlockB()
		close(done)
	}()

	// A held lock on one id must not block another id.
	<-done
	unlockA()
}

func TestLockTableEntriesReclaimed(t *testing.T) {
	table := newLockTable()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := table.acquire("session-a")
			unlock()
		}()
	}
	wg.Wait()

	table.mu.Lock()
	defer table.mu.Unlock()
	assert.Empty(t, table.locks, "released entries linger in the table")
}
