package policy

import (
	"fmt"
	"reflect"
	"time"

	"github.com/kesterly/corestore"
)

// TypeRegistry maps a document's action-type names to the concrete Go type
// implementing that action, so Compile can build a corestore.PolicyTable
// (which is keyed by reflect.Type, not by name). Callers register every
// action type their Document might name, typically once at startup.
type TypeRegistry map[string]reflect.Type

// Register records name -> the type of a zero-value instance of A, mirroring
// corestore's own ActionType[A]() helper.
func Register[A any](reg TypeRegistry, name string) {
	reg[name] = reflect.TypeOf((*A)(nil)).Elem()
}

// Compile turns doc into a corestore.PolicyTable, resolving each entry's
// action-type name through reg. An entry naming a type absent from reg is a
// configuration error — silently dropping it would let a typo in the
// document disable mixin behavior without any signal.
func Compile(doc *Document, reg TypeRegistry) (corestore.PolicyTable, error) {
	table := corestore.PolicyTable{}
	for name, ap := range doc.Actions {
		typ, ok := reg[name]
		if !ok {
			return nil, fmt.Errorf("policy: document names action %q, which is not registered", name)
		}
		table[typ] = toCorestoreSpec(ap)
	}
	return table, nil
}

func toCorestoreSpec(ap ActionPolicy) corestore.PolicySpec {
	spec := corestore.PolicySpec{
		NonReentrant: ap.NonReentrant,
		Debounce:     time.Duration(ap.Debounce),
		Throttle:     time.Duration(ap.Throttle),
	}
	if ap.Retry != nil {
		spec.Retry = &corestore.RetryPolicy{
			InitialDelay: time.Duration(ap.Retry.InitialDelay),
			Multiplier:   ap.Retry.Multiplier,
			MaxRetries:   ap.Retry.MaxRetries,
			Unlimited:    ap.Retry.Unlimited,
		}
	}
	return spec
}
