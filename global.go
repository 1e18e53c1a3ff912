package corestore

import (
	"reflect"
	"sync"
)

// globalRegistry backs BackdoorStaticGlobal: a last-resort static accessor
// for code paths (widget trees, legacy callbacks) that cannot have a Store
// reference threaded through them (spec.md §4.9, marked a backdoor in the
// original design precisely because it defeats dependency injection).
// Keyed by the (S, E) type pair so multiple Store[S, E] instantiations of
// different pairs can each keep their own slot.
var (
	globalMu  sync.Mutex
	globalReg = map[[2]reflect.Type]any{}
)

// BackdoorStaticGlobal registers store as the process-wide singleton for
// its (S, E) pair and returns an accessor that panics if called before
// registration. Only the most recently registered Store[S, E] of a given
// pair is reachable — registering a second one silently replaces the
// first, matching the "last writer wins, there is no list" semantics of
// the source API this backdoor exists to imitate.
func BackdoorStaticGlobal[S any, E any](store *Store[S, E]) func() *Store[S, E] {
	key := globalKey[S, E]()
	globalMu.Lock()
	globalReg[key] = store
	globalMu.Unlock()
	return func() *Store[S, E] {
		globalMu.Lock()
		defer globalMu.Unlock()
		v, ok := globalReg[key]
		if !ok {
			panic("corestore: BackdoorStaticGlobal accessor called before any Store was registered for this state/environment pair")
		}
		return v.(*Store[S, E])
	}
}

func globalKey[S any, E any]() [2]reflect.Type {
	return [2]reflect.Type{
		reflect.TypeOf((*S)(nil)).Elem(),
		reflect.TypeOf((*E)(nil)).Elem(),
	}
}

// clearGlobal removes store from the registry if it is still the
// currently-registered instance for its pair, called from Store.Shutdown.
func clearGlobal[S any, E any](store *Store[S, E]) {
	key := globalKey[S, E]()
	globalMu.Lock()
	defer globalMu.Unlock()
	if v, ok := globalReg[key]; ok && v == any(store) {
		delete(globalReg, key)
	}
}
