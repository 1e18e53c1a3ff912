package corestore

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// broadcaster is a close-and-replace signal channel, adapted from the
// teacher engine's eventQueue.signal (internal/engine/queue.go): instead of
// gating a single FIFO, it wakes every waiter blocked in waitFor whenever
// state or the wait registry changes, so each can re-check its own
// predicate.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) notify() {
	b.mu.Lock()
	old := b.ch
	b.ch = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// waitFor polls check after every broadcaster signal (and once immediately,
// so an already-satisfied predicate resolves without suspending), honoring
// an optional timeout.
func waitFor(ctx context.Context, b *broadcaster, timeout time.Duration, check func() (bool, error)) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		ch := b.wait()
		select {
		case <-ch:
			continue
		case <-deadline:
			return NewTimeoutException(fmt.Sprintf("timed out after %s waiting for condition", timeout))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// inflightEntry tracks one dispatched action for the lifetime of its
// Executor run. isAsync starts false and flips true the first time an
// AsyncEffect/AsyncReduction tag is observed — a purely synchronous action
// never flips it, so IsWaiting correctly never reports it (spec.md §4.3).
type inflightEntry struct {
	action  any
	typ     reflect.Type
	isAsync bool
	key     any // non-nil if this entry currently holds a lock key
	done    chan struct{}
}

// waitRegistry implements spec.md §4.3's two indexes plus the shared
// broadcaster every wait primitive polls against.
// byAction is keyed by the dispatched action value, which need not be
// unique: two concurrently in-flight actions that are structurally equal
// (e.g. the same zero-field or identical-field action type dispatched
// twice) compare equal as map keys, so each key holds every entry
// currently registered under it rather than a single overwritten winner.
type waitRegistry struct {
	mu       sync.Mutex
	byType   map[reflect.Type]map[*inflightEntry]struct{}
	byAction map[any][]*inflightEntry
	byKey    map[any]*inflightEntry
	signal   *broadcaster
}

func newWaitRegistry() *waitRegistry {
	return &waitRegistry{
		byType:   map[reflect.Type]map[*inflightEntry]struct{}{},
		byAction: map[any][]*inflightEntry{},
		byKey:    map[any]*inflightEntry{},
		signal:   newBroadcaster(),
	}
}

func (r *waitRegistry) register(action any) *inflightEntry {
	typ := reflect.TypeOf(action)
	e := &inflightEntry{action: action, typ: typ, done: make(chan struct{})}

	r.mu.Lock()
	if r.byType[typ] == nil {
		r.byType[typ] = map[*inflightEntry]struct{}{}
	}
	r.byType[typ][e] = struct{}{}
	r.byAction[action] = append(r.byAction[action], e)
	r.mu.Unlock()

	r.signal.notify()
	return e
}

func (r *waitRegistry) markAsync(e *inflightEntry) {
	r.mu.Lock()
	e.isAsync = true
	r.mu.Unlock()
	r.signal.notify()
}

// tryAcquireKey attempts to make e the sole holder of key. Returns false if
// another entry already holds it.
func (r *waitRegistry) tryAcquireKey(key any, e *inflightEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.byKey[key]; held {
		return false
	}
	r.byKey[key] = e
	e.key = key
	return true
}

// holderOfKey returns the entry currently holding key, if any.
func (r *waitRegistry) holderOfKey(key any) (*inflightEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byKey[key]
	return e, ok
}

func (r *waitRegistry) releaseKey(e *inflightEntry) {
	if e.key == nil {
		return
	}
	r.mu.Lock()
	if r.byKey[e.key] == e {
		delete(r.byKey, e.key)
	}
	e.key = nil
	r.mu.Unlock()
	r.signal.notify()
}

// finish removes e from every index and closes its done channel, waking
// anyone in WaitAllActions blocked on it specifically.
func (r *waitRegistry) finish(e *inflightEntry) {
	r.mu.Lock()
	if set := r.byType[e.typ]; set != nil {
		delete(set, e)
		if len(set) == 0 {
			delete(r.byType, e.typ)
		}
	}
	r.removeFromByAction(e)
	if r.byKey[e.key] == e {
		delete(r.byKey, e.key)
	}
	r.mu.Unlock()

	close(e.done)
	r.signal.notify()
}

// removeFromByAction removes exactly e (not just any entry sharing its
// action value) from r.byAction. Caller must hold r.mu.
func (r *waitRegistry) removeFromByAction(e *inflightEntry) {
	entries := r.byAction[e.action]
	for i, other := range entries {
		if other == e {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.byAction, e.action)
	} else {
		r.byAction[e.action] = entries
	}
}

// isWaiting reports whether any truly-async action of the exact given type
// is currently in flight (spec.md §4.3).
func (r *waitRegistry) isWaiting(typ reflect.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := range r.byType[typ] {
		if e.isAsync {
			return true
		}
	}
	return false
}

// isWaitingAny reports whether any truly-async action of any of the given
// types is in flight.
func (r *waitRegistry) isWaitingAny(types []reflect.Type) bool {
	for _, t := range types {
		if r.isWaiting(t) {
			return true
		}
	}
	return false
}

// snapshot returns every currently in-flight entry, for WaitActionCondition.
func (r *waitRegistry) snapshot() []*inflightEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*inflightEntry, 0, len(r.byAction))
	for _, entries := range r.byAction {
		out = append(out, entries...)
	}
	return out
}

// isActionInFlight reports whether any dispatch equal to action is still
// registered (dispatched but not yet finished). Actions are keyed by value
// equality; when multiple structurally-equal actions are in flight at once,
// this reports true as long as at least one of them hasn't finished.
func (r *waitRegistry) isActionInFlight(action any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAction[action]) > 0
}
