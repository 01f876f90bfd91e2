package workflow

import "sync"

// locker is a keyed mutex. Entries are reference counted and dropped once unused.
type locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLocker() *locker {
	return &locker{locks: make(map[string]*lockEntry)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (l *locker) Lock(key string) func() {
	l.mu.Lock()

	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{}
		l.locks[key] = entry
	}

	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once

	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			l.mu.Lock()
			defer l.mu.Unlock()

			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, key)
			}
		})
	}
}

func (l *locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
