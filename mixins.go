package corestore

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"
)

// gateResult is what a mixin pre-gate hands back to the Executor: whether
// to continue into Before/Reduce at all, and which lock key (if any) the
// post-gate must release once the dispatch reaches its terminal state
// (spec.md §4.5: "All mixins integrate at two places only: a pre-gate
// ... and a post-gate").
type gateResult struct {
	proceed     bool
	skipToAfter bool // OptimisticSync/Push already did the full state mutation; still run After
	lockKey     any
}

// forbidCombo implements the fixed assertion message spec.md §4.5 requires
// for mutually-exclusive mixin combinations.
func forbidCombo(a, b string) error {
	return NewStoreException(fmt.Sprintf("The %s mixin cannot be combined with the %s mixin.", a, b))
}

// mixinState holds every mixin's coalescing/timer state for one Store. It
// is a separate type (rather than fields directly on Store) purely for
// file-organization: every method here is called only from executor.go.
type mixinState[S any, E any] struct {
	store *Store[S, E]

	dtMu           sync.Mutex
	debounceTimers map[any]*time.Timer
	throttleLast   map[any]time.Time

	syncMu    sync.Mutex
	syncState map[any]*syncKeyState
}

type syncKeyState struct {
	locked            bool
	sentValue         any
	latestIntent      any
	localRevision     int64
	sentLocalRevision int64
	serverRevision    int64
}

func newMixinState[S any, E any](store *Store[S, E]) *mixinState[S, E] {
	return &mixinState[S, E]{
		store:          store,
		debounceTimers: map[any]*time.Timer{},
		throttleLast:   map[any]time.Time{},
		syncState:      map[any]*syncKeyState{},
	}
}

// detectForbiddenCombos enforces spec.md §4.5's exclusion matrix: OptimisticSync
// and OptimisticSyncWithPush cannot combine with NonReentrant, Throttle,
// Debounce, OptimisticUpdate, or any retry mixin.
func detectForbiddenCombos[S any, E any](action Action[S, E]) error {
	a := any(action)
	_, isSyncer := a.(OptimisticSyncer[S])
	_, isPush := a.(ServerPushAction[S])
	if !isSyncer && !isPush {
		return nil
	}
	name := "OptimisticSync"
	if isPush {
		name = "OptimisticSyncWithPush"
	}
	if _, ok := a.(NonReentrant); ok {
		return forbidCombo(name, "NonReentrant")
	}
	if _, ok := a.(Throttled); ok {
		return forbidCombo(name, "Throttle")
	}
	if _, ok := a.(Debounced); ok {
		return forbidCombo(name, "Debounce")
	}
	if _, ok := a.(OptimisticUpdater[S]); ok {
		return forbidCombo(name, "OptimisticUpdate")
	}
	if _, ok := a.(Retryable); ok {
		return forbidCombo(name, "Retry")
	}
	return nil
}

// preGate runs every applicable mixin's pre-dispatch hook in a fixed order
// and returns whether the Executor should proceed to Before/Reduce.
// Returning proceed=false with a non-nil error aborts the whole dispatch
// with that error (a contract violation); proceed=false with a nil error
// is a silent abort per spec.md §4.5 (NonReentrant collision, Throttle
// window, Debounce re-arm). ServerPush and OptimisticSync actions return
// skipToAfter=true, whether or not the push was dropped as stale.
func (m *mixinState[S, E]) preGate(ctx context.Context, action Action[S, E], entry *inflightEntry) (gateResult, error) {
	if err := detectForbiddenCombos[S, E](action); err != nil {
		return gateResult{}, err
	}

	a := any(action)

	// ServerPush and OptimisticSync bypass the normal lock/before/reduce
	// path entirely: the mixin itself performs the full state mutation.
	if push, ok := a.(ServerPushAction[S]); ok {
		m.runServerPush(push)
		return gateResult{skipToAfter: true}, nil
	}
	if syncer, ok := a.(RevisionedSyncer[S]); ok {
		m.runOptimisticSyncWithPush(ctx, syncer)
		return gateResult{skipToAfter: true}, nil
	}
	if syncer, ok := a.(OptimisticSyncer[S]); ok {
		m.runOptimisticSync(ctx, syncer)
		return gateResult{skipToAfter: true}, nil
	}

	if checker, ok := a.(InternetChecker); ok {
		if unlimited, ok := a.(UnlimitedRetryCheckInternet); ok && unlimited.UnlimitedRetryCheckInternet() {
			if err := m.waitForInternet(ctx, checker); err != nil {
				return gateResult{proceed: false}, err
			}
		} else if err := checker.CheckInternet(ctx); err != nil {
			return gateResult{proceed: false}, NewUserException("No internet").WithHardCause(err)
		}
	}

	policy, hasPolicy := m.store.policies.lookup(action)

	key, hasKey := nonReentrantKey(action)
	_, isNonReentrant := a.(NonReentrant)
	if isNonReentrant || hasKey {
		if !m.store.waitReg.tryAcquireKey(key, entry) {
			m.store.log.Debug("non-reentrant collision, dropping dispatch", "action", fmt.Sprintf("%T", action), "key", key)
			return gateResult{proceed: false}, nil // collision: silent abort
		}
		return gateResult{proceed: true, lockKey: key}, nil
	}
	if hasPolicy && policy.NonReentrant {
		key := reflect.TypeOf(action)
		if !m.store.waitReg.tryAcquireKey(key, entry) {
			m.store.log.Debug("non-reentrant collision (policy), dropping dispatch", "action", fmt.Sprintf("%T", action), "key", key)
			return gateResult{proceed: false}, nil
		}
		return gateResult{proceed: true, lockKey: key}, nil
	}

	fired := ctx.Value(debounceFiredKey{}) != nil
	if d, ok := a.(Debounced); ok && !fired {
		m.store.log.Debug("debounce timer (re)armed", "action", fmt.Sprintf("%T", action))
		return m.preGateDebounce(action, d)
	}
	if hasPolicy && policy.Debounce > 0 && !fired {
		m.store.log.Debug("debounce timer (re)armed via policy", "action", fmt.Sprintf("%T", action))
		return m.preGateDebounce(action, policyDebounced{policy.Debounce})
	}

	if th, ok := a.(Throttled); ok {
		if m.throttled(action, th.ThrottleDuration()) {
			m.store.log.Debug("throttled, dropping dispatch", "action", fmt.Sprintf("%T", action))
			return gateResult{proceed: false}, nil
		}
		return gateResult{proceed: true}, nil
	}
	if hasPolicy && policy.Throttle > 0 {
		if m.throttled(action, policy.Throttle) {
			m.store.log.Debug("throttled (policy), dropping dispatch", "action", fmt.Sprintf("%T", action))
			return gateResult{proceed: false}, nil
		}
		return gateResult{proceed: true}, nil
	}

	return gateResult{proceed: true}, nil
}

// postGate releases whatever lock key the pre-gate acquired. Called
// unconditionally at Executor step 9, regardless of outcome.
func (m *mixinState[S, E]) postGate(entry *inflightEntry) {
	m.store.waitReg.releaseKey(entry)
}

// internetProbeInterval is the polling delay between CheckInternet retries
// for UnlimitedRetryCheckInternet actions, chosen to match the Retry mixin's
// DefaultRetryPolicy initial delay rather than introduce a second tunable.
const internetProbeInterval = 50 * time.Millisecond

// waitForInternet loops CheckInternet until it passes, spec.md §4.5's
// "loops the whole action (not just the probe) until connectivity is
// restored" — unlike the base CheckInternet mixin, a probe failure here
// never fails the dispatch, only ctx cancellation does.
func (m *mixinState[S, E]) waitForInternet(ctx context.Context, checker InternetChecker) error {
	for {
		if err := checker.CheckInternet(ctx); err == nil {
			return nil
		}
		select {
		case <-time.After(internetProbeInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// debounceFiredKey marks the context of a dispatch started by a Debounce
// timer firing (see Store.dispatchDebounced).
type debounceFiredKey struct{}

func nonReentrantKey(action any) (any, bool) {
	if keyer, ok := action.(NonReentrantKeyer); ok {
		return keyer.ComputeNonReentrantKey(), true
	}
	if nr, ok := action.(NonReentrant); ok {
		return nonReentrantKeyFor(action, nr.NonReentrantKeyParams()), true
	}
	return nil, false
}

func nonReentrantKeyFor(action any, params []any) string {
	return fmt.Sprintf("%T:%v", action, params)
}

// preGateDebounce implements spec.md §4.5's Debounce mixin. Each call
// cancels any pending timer for the key and schedules a new one; only the
// timer that actually fires proceeds to Before/Reduce. Since the firing
// happens on its own goroutine well after preGate returns, Debounce cannot
// be expressed purely as a pre-gate decision returned synchronously — the
// Executor instead receives proceed=false immediately and the deferred
// execution re-enters the dispatch pipeline from debounceFire.
func (m *mixinState[S, E]) preGateDebounce(action Action[S, E], d Debounced) (gateResult, error) {
	key, _ := nonReentrantKey(action)
	if key == nil {
		key = reflect.TypeOf(action)
	}

	m.dtMu.Lock()
	if t, ok := m.debounceTimers[key]; ok {
		t.Stop()
	}
	duration := d.DebounceDuration()
	m.debounceTimers[key] = time.AfterFunc(duration, func() {
		m.dtMu.Lock()
		delete(m.debounceTimers, key)
		m.dtMu.Unlock()
		m.store.dispatchDebounced(action)
	})
	m.dtMu.Unlock()

	return gateResult{proceed: false}, nil
}

func (m *mixinState[S, E]) throttled(action Action[S, E], window time.Duration) bool {
	key, _ := nonReentrantKey(action)
	if key == nil {
		key = reflect.TypeOf(action)
	}
	m.dtMu.Lock()
	defer m.dtMu.Unlock()
	last, ok := m.throttleLast[key]
	now := time.Now()
	if ok && now.Sub(last) < window {
		return true
	}
	m.throttleLast[key] = now
	return false
}

// runRetry wraps a Reduce invocation with spec.md §4.5's exponential
// backoff: only Reduce is retried, Before and After each still run once.
func runRetry[S any](ctx context.Context, policy RetryPolicy, reduce func(context.Context) (Reduction[S], error)) (Reduction[S], error) {
	delay := policy.InitialDelay
	if delay <= 0 {
		delay = DefaultRetryPolicy().InitialDelay
	}
	mult := policy.Multiplier
	if mult <= 0 {
		mult = DefaultRetryPolicy().Multiplier
	}
	maxRetries := policy.MaxRetries
	if maxRetries <= 0 && !policy.Unlimited {
		maxRetries = DefaultRetryPolicy().MaxRetries
	}

	attempt := 0
	for {
		result, err := reduce(ctx)
		if err == nil {
			return result, nil
		}
		if !policy.Unlimited && attempt >= maxRetries {
			return Reduction[S]{}, err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Reduction[S]{}, ctx.Err()
		}
		delay = time.Duration(float64(delay) * mult)
		attempt++
	}
}

// -- OptimisticUpdate -------------------------------------------------

// runOptimisticUpdate implements spec.md §4.5's five-step algorithm. It is
// invoked from the Executor as a substitute Reduce step when the action
// implements OptimisticUpdater.
func runOptimisticUpdate[S any, E any](ctx context.Context, store *Store[S, E], action Action[S, E]) (Reduction[S], error) {
	updater := any(action).(OptimisticUpdater[S])

	value, err := updater.NewValue(ctx)
	if err != nil {
		return Reduction[S]{}, err
	}

	before := store.cell.get()
	priorValue := updater.GetValueFromState(before)

	applied := updater.ApplyValueToState(before, value)
	store.applyState(action, applied)

	saveErr := func() error {
		if retryable, ok := any(action).(Retryable); ok {
			policy := retryable.RetryPolicy()
			delay := policy.InitialDelay
			if delay <= 0 {
				delay = DefaultRetryPolicy().InitialDelay
			}
			mult := policy.Multiplier
			if mult <= 0 {
				mult = DefaultRetryPolicy().Multiplier
			}
			maxRetries := policy.MaxRetries
			if maxRetries <= 0 && !policy.Unlimited {
				maxRetries = DefaultRetryPolicy().MaxRetries
			}
			attempt := 0
			for {
				err := updater.SaveValue(ctx, value)
				if err == nil {
					return nil
				}
				if !policy.Unlimited && attempt >= maxRetries {
					return err
				}
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
				delay = time.Duration(float64(delay) * mult)
				attempt++
			}
		}
		return updater.SaveValue(ctx, value)
	}()

	if saveErr != nil {
		current := store.cell.get()
		if reflect.DeepEqual(updater.GetValueFromState(current), value) {
			rolledBack := updater.ApplyValueToState(current, priorValue)
			store.applyState(action, rolledBack)
		}
	}

	if reloader, ok := any(action).(OptimisticReloader[S]); ok {
		if reloaded, rerr := reloader.ReloadValue(ctx); rerr == nil {
			current := store.cell.get()
			store.applyState(action, updater.ApplyValueToState(current, reloaded))
		}
	}

	return NoReduction[S](), saveErr
}

// -- OptimisticSync (stable-sync) --------------------------------------

func (m *mixinState[S, E]) keyState(key any) *syncKeyState {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	st, ok := m.syncState[key]
	if !ok {
		st = &syncKeyState{}
		m.syncState[key] = st
	}
	return st
}

func (m *mixinState[S, E]) runOptimisticSync(ctx context.Context, syncer OptimisticSyncer[S]) {
	key := syncer.SyncKey()
	st := m.keyState(key)

	current := m.store.cell.get()
	value, err := syncer.ValueToApply(ctx, current)
	if err != nil {
		return
	}
	applied := syncer.ApplyValueToState(current, value)
	m.store.applyState(nil, applied)

	m.syncMu.Lock()
	wasLocked := st.locked
	if !wasLocked {
		st.locked = true
		st.sentValue = value
	} else {
		st.latestIntent = value
	}
	m.syncMu.Unlock()

	if !wasLocked {
		go m.drainOptimisticSync(ctx, syncer, key, st)
	}
}

func (m *mixinState[S, E]) drainOptimisticSync(ctx context.Context, syncer OptimisticSyncer[S], key any, st *syncKeyState) {
	for {
		m.syncMu.Lock()
		sendValue := st.sentValue
		m.syncMu.Unlock()

		resp, err := syncer.SendValueToServer(ctx, sendValue)
		if err != nil {
			m.syncMu.Lock()
			st.locked = false
			m.syncMu.Unlock()
			syncer.OnFinish(err)
			return
		}

		if resp != nil {
			current := m.store.cell.get()
			if reflect.DeepEqual(syncer.GetValueFromState(current), sendValue) {
				next := syncer.ApplyServerResponseToState(current, resp)
				m.store.applyState(nil, next)
			}
		}

		current := m.store.cell.get()
		latest := syncer.GetValueFromState(current)

		m.syncMu.Lock()
		if !reflect.DeepEqual(latest, sendValue) {
			st.sentValue = latest
			m.syncMu.Unlock()
			continue
		}
		st.locked = false
		m.syncMu.Unlock()
		syncer.OnFinish(nil)
		return
	}
}

// -- OptimisticSyncWithPush ---------------------------------------------

func (m *mixinState[S, E]) runOptimisticSyncWithPush(ctx context.Context, syncer RevisionedSyncer[S]) {
	key := syncer.SyncKey()
	st := m.keyState(key)

	current := m.store.cell.get()
	value, err := syncer.ValueToApply(ctx, current)
	if err != nil {
		return
	}
	applied := syncer.ApplyValueToState(current, value)
	m.store.applyState(nil, applied)

	m.syncMu.Lock()
	st.localRevision++
	wasLocked := st.locked
	if !wasLocked {
		st.locked = true
		st.sentValue = value
		st.sentLocalRevision = st.localRevision
	} else {
		st.latestIntent = value
	}
	m.syncMu.Unlock()

	if !wasLocked {
		go m.drainOptimisticSyncWithPush(ctx, syncer, key, st)
	}
}

func (m *mixinState[S, E]) drainOptimisticSyncWithPush(ctx context.Context, syncer RevisionedSyncer[S], key any, st *syncKeyState) {
	for {
		m.syncMu.Lock()
		sendValue := st.sentValue
		sentRev := st.sentLocalRevision
		m.syncMu.Unlock()

		resp, err := syncer.SendValueToServer(ctx, sendValue)
		if err != nil {
			m.syncMu.Lock()
			st.locked = false
			m.syncMu.Unlock()
			syncer.OnFinish(err)
			return
		}

		if resp != nil {
			respRev := syncer.ResponseRevision(resp)
			m.syncMu.Lock()
			stale := respRev <= st.serverRevision
			if !stale {
				st.serverRevision = respRev
			}
			m.syncMu.Unlock()
			if !stale {
				current := m.store.cell.get()
				next := syncer.ApplyServerResponseToState(current, resp)
				m.store.applyState(nil, next)
			}
		}

		m.syncMu.Lock()
		needsFollowUp := st.localRevision > sentRev
		if needsFollowUp {
			st.sentValue = st.latestIntent
			st.sentLocalRevision = st.localRevision
			m.syncMu.Unlock()
			continue
		}
		st.locked = false
		m.syncMu.Unlock()
		syncer.OnFinish(nil)
		return
	}
}

// runServerPush implements spec.md §4.5's unsolicited-push handling: it
// bypasses the lock entirely and applies iff strictly newer than the
// currently recorded revision for the key, never touching localRevision.
func (m *mixinState[S, E]) runServerPush(push ServerPushAction[S]) {
	key := push.SyncKey()
	st := m.keyState(key)

	m.syncMu.Lock()
	if push.PushRevision() <= st.serverRevision {
		m.syncMu.Unlock()
		return // dropped as stale
	}
	st.serverRevision = push.PushRevision()
	m.syncMu.Unlock()

	current := m.store.cell.get()
	next := push.ApplyPush(current)
	m.store.applyState(nil, next)
}

// retryDelay returns base * multiplier^attempt. Nothing in the package
// calls it: runRetry and runOptimisticUpdate grow their delay step by step
// instead.
func retryDelay(base time.Duration, multiplier float64, attempt int) time.Duration {
	d := float64(base) * math.Pow(multiplier, float64(attempt))
	return time.Duration(d)
}
