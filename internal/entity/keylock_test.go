package entity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLockerSerializesPerKey(t *testing.T) {
	k := newKeyLocker()
	var wg sync.WaitGroup
	counter := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("entities/task_1")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.size(), "entries are dropped once released")
}

func TestKeyLockerOrderIndependent(t *testing.T) {
	k := newKeyLocker()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var unlock func()
			if i%2 == 0 {
				unlock = k.Lock("boards/board_1", "meta/currentBoardId")
			} else {
				unlock = k.Lock("meta/currentBoardId", "boards/board_1", "boards/board_1")
			}
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lockers deadlocked")
	}
	assert.Equal(t, 0, k.size())
}
