package corestore

import "sync"

// StateObserver is notified after every reduce the store applies, including
// a NoReduction whose before and after states are equal (spec.md §4.4,
// channel 1). Implementations are external
// collaborators — corestore ships none itself beyond what internal/journal
// demonstrates.
type StateObserver[S any, E any] interface {
	Observe(action Action[S, E], before, after S, dispatchCount int64)
}

// ErrorObserver receives every action failure exactly once, with the
// pre-wrapping error (spec.md §4.4, §7: "the global error observer always
// receives the pre-wrapping error").
type ErrorObserver interface {
	Observe(err error, stack []byte, action any, dispatchCount int64)
}

// EqualFunc compares two selected values for the selector-listener channel.
type EqualFunc[V any] func(a, b V) bool

// EventLens lets ConsumeEvent read and, on consumption, write back a
// spent copy of an Event[V] embedded somewhere inside S. Get/Set together
// stand in for the spec's "selectEventFn" — Go has no first-class lenses,
// so ConsumeEvent takes both directions explicitly.
type EventLens[S any, V any] struct {
	Get func(S) Event[V]
	Set func(S, Event[V]) S
}

// notifier implements spec.md §4.4's three fan-out channels (state
// observers, selector listeners, error observers — wait-primitive
// evaluation itself lives in wait.go, signalled by Store.applyState).
type notifier[S any, E any] struct {
	mu        sync.Mutex
	stateObs  []StateObserver[S, E]
	errObs    []ErrorObserver
	selectors map[int64]func(before, after S)
	nextID    int64
}

func newNotifier[S any, E any]() *notifier[S, E] {
	return &notifier[S, E]{selectors: map[int64]func(before, after S){}}
}

func (n *notifier[S, E]) addStateObserver(o StateObserver[S, E]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stateObs = append(n.stateObs, o)
}

func (n *notifier[S, E]) addErrorObserver(o ErrorObserver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errObs = append(n.errObs, o)
}

// registerSelector stores a pre-closed-over comparison/callback and returns
// its id for later unsubscription.
func (n *notifier[S, E]) registerSelector(run func(before, after S)) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.selectors[id] = run
	return id
}

func (n *notifier[S, E]) unregisterSelector(id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.selectors, id)
}

// notifyStateChange fires channel 1 and channel 2, in that order, as
// spec.md §4.4 requires. Called only when the reducer produced a state
// that differs from the previous one (or, for the "no-op" case, with
// before==after so observers still see the dispatch but selectors never
// fire since equality holds).
func (n *notifier[S, E]) notifyStateChange(action Action[S, E], before, after S, dispatchCount int64) {
	n.mu.Lock()
	obs := append([]StateObserver[S, E]{}, n.stateObs...)
	selectors := make([]func(before, after S), 0, len(n.selectors))
	for _, run := range n.selectors {
		selectors = append(selectors, run)
	}
	n.mu.Unlock()

	for _, o := range obs {
		o.Observe(action, before, after, dispatchCount)
	}
	for _, run := range selectors {
		run(before, after)
	}
}

func (n *notifier[S, E]) notifyError(err error, stack []byte, action any, dispatchCount int64) {
	n.mu.Lock()
	obs := append([]ErrorObserver{}, n.errObs...)
	n.mu.Unlock()
	for _, o := range obs {
		o.Observe(err, stack, action, dispatchCount)
	}
}

// SubscribeSelector registers a selector listener (spec.md §6): after every
// state change, if equalFn(selectFn(before), selectFn(after)) is false,
// onChange runs. It is a package-level function (not a Store method)
// because Go methods cannot introduce new type parameters beyond the
// receiver's.
func SubscribeSelector[S any, E any, V any](
	store *Store[S, E],
	selectFn func(S) V,
	equalFn EqualFunc[V],
	onChange func(),
) (unsubscribe func()) {
	id := store.notifier.registerSelector(func(before, after S) {
		if !equalFn(selectFn(before), selectFn(after)) {
			onChange()
		}
	})
	return func() { store.notifier.unregisterSelector(id) }
}

// SubscribeEnvironment registers a read-hook over the store's Environment.
// Per spec.md §4.4, listeners that only read the environment never receive
// state-change callbacks — Environment is fixed at construction, so this
// exists purely so external binding layers have a uniform subscription API
// that never actually needs to fire.
func SubscribeEnvironment[S any, E any](store *Store[S, E], onRead func(E)) (unsubscribe func()) {
	onRead(store.env)
	return func() {}
}

// ConsumeEvent marks an unspent Event[V] spent and returns its payload. The
// consumption is a side effect: the store's state is swapped for a copy
// with the Event replaced by its spent form, per spec.md §4.4.
func ConsumeEvent[S any, E any, V any](store *Store[S, E], lens EventLens[S, V]) (value V, ok bool) {
	store.cell.mu.Lock()
	defer store.cell.mu.Unlock()

	current := store.cell.state
	ev := lens.Get(current)
	v, wasUnspent, spent := ev.Consume()
	if !wasUnspent {
		return v, false
	}
	store.cell.state = lens.Set(current, spent)
	return v, true
}
