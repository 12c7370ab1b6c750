package integration

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedLocks_SerializesSameKey(t *testing.T) {
	locks := newKeyedLocks()

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Acquire(1)
			defer release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxActive)
}

func TestKeyedLocks_DifferentKeysDoNotBlock(t *testing.T) {
	locks := newKeyedLocks()

	releaseA := locks.Acquire(1)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB := locks.Acquire(2)
		releaseB()
		close(done)
	}()
	<-done
}

func TestKeyedLocks_EntriesAreReclaimed(t *testing.T) {
	locks := newKeyedLocks()

	release := locks.Acquire(7)
	release()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	require.Empty(t, locks.locks)
}
