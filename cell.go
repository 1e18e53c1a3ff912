package corestore

import "sync"

// stateCell holds the store's current immutable state value. Writes come
// from each dispatch's goroutine and from mixin background goroutines;
// every read and write (Store.State, selector evaluation, ConsumeEvent,
// applyState) takes the mutex, since unlike
// the teacher engine's SQLite-backed store, corestore keeps everything
// in-process and must be safe to read from arbitrary caller goroutines.
type stateCell[S any] struct {
	mu    sync.Mutex
	state S
}

func newStateCell[S any](initial S) *stateCell[S] {
	return &stateCell[S]{state: initial}
}

func (c *stateCell[S]) get() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *stateCell[S]) set(s S) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}
