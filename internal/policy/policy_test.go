package policy

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kesterly/corestore"
)

type fakeAction struct{}

func (fakeAction) Before(ctx context.Context, store *corestore.Store[int, struct{}]) corestore.Effect {
	return corestore.NoEffect()
}
func (fakeAction) Reduce(ctx context.Context, store *corestore.Store[int, struct{}]) corestore.Reduction[int] {
	return corestore.NoReduction[int]()
}
func (fakeAction) After(ctx context.Context, store *corestore.Store[int, struct{}]) error { return nil }

func TestCompile_ResolvesRegisteredActionType(t *testing.T) {
	doc := &Document{Actions: map[string]ActionPolicy{
		"demo.FakeAction": {
			NonReentrant: true,
			Debounce:     Duration(50 * time.Millisecond),
			Retry:        &RetrySpec{MaxRetries: 5, Multiplier: 2},
		},
	}}

	reg := TypeRegistry{}
	Register[fakeAction](reg, "demo.FakeAction")

	table, err := Compile(doc, reg)
	require.NoError(t, err)

	spec, ok := table[reflect.TypeOf(fakeAction{})]
	require.True(t, ok)
	assert.True(t, spec.NonReentrant)
	assert.Equal(t, 50*time.Millisecond, spec.Debounce)
	require.NotNil(t, spec.Retry)
	assert.Equal(t, 5, spec.Retry.MaxRetries)
}

func TestCompile_UnregisteredNameFails(t *testing.T) {
	doc := &Document{Actions: map[string]ActionPolicy{"demo.Unknown": {}}}
	_, err := Compile(doc, TypeRegistry{})
	require.Error(t, err)
}

func TestValidate_RejectsNegativeDurationsAndBadRetry(t *testing.T) {
	doc := &Document{Actions: map[string]ActionPolicy{
		"demo.Bad": {
			Debounce: Duration(-1),
			Retry:    &RetrySpec{Multiplier: -1, MaxRetries: -1},
		},
	}}

	errs := Validate(doc)
	assert.Len(t, errs, 3)
}

func TestValidate_AcceptsWellFormedDocument(t *testing.T) {
	doc := &Document{Actions: map[string]ActionPolicy{
		"demo.Good": {
			Debounce: Duration(10 * time.Millisecond),
			Retry:    &RetrySpec{Multiplier: 2, MaxRetries: 3},
		},
	}}
	assert.Empty(t, Validate(doc))
}
