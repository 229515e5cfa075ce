package hoptrace

import (
	"context"
	"fmt"
	"iter"
	"slices"
)

// Baggage is an ordered, immutable set of cross-cutting key/value pairs that
// travels alongside a SpanContext. It never affects the shape of the trace.
//
// Set returns a new Baggage; the receiver is never modified, so a Baggage
// may be shared freely between goroutines and between parent and child
// contexts. Overwriting a key keeps its original position, new keys append.
type Baggage struct {
	keys   []string
	values map[string]string
}

// NewBaggage builds a Baggage from alternating key/value arguments.
// A trailing key without a value and empty keys are ignored.
func NewBaggage(kv ...string) Baggage {
	var b Baggage
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == "" {
			continue
		}
		b = b.Set(kv[i], kv[i+1])
	}

	return b
}

// Len returns the number of members.
func (b Baggage) Len() int { return len(b.keys) }

// Get returns the value for key and whether it is present.
func (b Baggage) Get(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Value returns the value for key, or "" if absent.
func (b Baggage) Value(key string) string {
	return b.values[key]
}

// Set returns a copy of b with key set to value. Empty keys are ignored.
func (b Baggage) Set(key, value string) Baggage {
	if key == "" {
		return b
	}
	if cur, ok := b.values[key]; ok && cur == value {
		return b
	}

	next := Baggage{
		keys:   slices.Clone(b.keys),
		values: make(map[string]string, len(b.values)+1),
	}
	for k, v := range b.values {
		next.values[k] = v
	}
	if _, ok := next.values[key]; !ok {
		next.keys = append(next.keys, key)
	}
	next.values[key] = value

	return next
}

// Merge returns b overlaid with every member of other, in other's order.
func (b Baggage) Merge(other Baggage) Baggage {
	out := b
	for k, v := range other.All() {
		out = out.Set(k, v)
	}

	return out
}

// Keys returns the member keys in insertion order.
func (b Baggage) Keys() []string {
	return slices.Clone(b.keys)
}

// All iterates the members in insertion order.
func (b Baggage) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, k := range b.keys {
			if !yield(k, b.values[k]) {
				return
			}
		}
	}
}

// Map returns the members as a plain map.
func (b Baggage) Map() map[string]string {
	m := make(map[string]string, len(b.keys))
	for k, v := range b.All() {
		m[k] = v
	}

	return m
}

// Equal reports whether b and other hold the same members in the same order.
func (b Baggage) Equal(other Baggage) bool {
	if !slices.Equal(b.keys, other.keys) {
		return false
	}
	for _, k := range b.keys {
		if b.values[k] != other.values[k] {
			return false
		}
	}

	return true
}

// SetBaggage adds a key-value pair to the baggage of the ambient SpanContext.
// Returns ErrInvalidBaggage if key is empty.
func SetBaggage(ctx context.Context, key, value string) (context.Context, error) {
	if key == "" {
		return ctx, fmt.Errorf("%w: empty key", ErrInvalidBaggage)
	}
	sc := SpanContextFromContext(ctx)

	return ContextWithSpanContext(ctx, sc.WithBaggage(key, value)), nil
}

// MustSetBaggage adds a key-value pair to baggage, panicking on error.
// Use when the key is known to be valid (e.g., hardcoded keys).
func MustSetBaggage(ctx context.Context, key, value string) context.Context {
	newCtx, err := SetBaggage(ctx, key, value)
	if err != nil {
		panic(fmt.Sprintf("hoptrace: invalid baggage key=%q value=%q: %v", key, value, err))
	}

	return newCtx
}

// GetBaggage retrieves a value from the ambient baggage.
func GetBaggage(ctx context.Context, key string) string {
	return SpanContextFromContext(ctx).Baggage().Value(key)
}

// AllBaggage returns all ambient baggage members as a map.
func AllBaggage(ctx context.Context) map[string]string {
	return SpanContextFromContext(ctx).Baggage().Map()
}
