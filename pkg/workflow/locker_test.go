package workflow

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := newLocker()

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := l.Lock("i-1")
			defer unlock()

			if inside.Add(1) > 1 {
				overlap.Store(true)
			}

			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}

	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, 0, l.size())
}

func TestLocker_DistinctKeysDoNotBlock(t *testing.T) {
	l := newLocker()

	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})

	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestLocker_UnlockIsIdempotent(t *testing.T) {
	l := newLocker()

	unlock := l.Lock("a")
	unlock()
	unlock()

	assert.Equal(t, 0, l.size())

	relock := l.Lock("a")
	relock()
}
