package hoptrace

import (
	"fmt"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/propagation"
)

// Getter reads a single value from a carrier. An absent key reads as "".
type Getter interface {
	Get(key string) string
}

// ValuesGetter is implemented by carriers that can hold several values per key.
// Extract prefers it over Getter when available.
type ValuesGetter interface {
	Getter
	Values(key string) []string
}

// Setter writes a value into a carrier, replacing any previous value.
type Setter interface {
	Set(key, value string)
}

// MapCarrier is a plain string map carrier.
type MapCarrier = propagation.MapCarrier

// HeaderCarrier adapts http.Header.
type HeaderCarrier = propagation.HeaderCarrier

var (
	_ Getter       = MapCarrier{}
	_ Setter       = MapCarrier{}
	_ ValuesGetter = HeaderCarrier(http.Header{})
	_ ValuesGetter = MultiMapCarrier{}
	_ ValuesGetter = AnyMapCarrier{}
)

// MultiMapCarrier adapts a map of multi-valued attributes, the shape many
// broker clients use for message metadata.
type MultiMapCarrier map[string][]string

// Get returns the first value for key.
func (c MultiMapCarrier) Get(key string) string {
	if vs := c[key]; len(vs) > 0 {
		return vs[0]
	}

	return ""
}

// Values returns all values for key.
func (c MultiMapCarrier) Values(key string) []string {
	return c[key]
}

// Set replaces the values for key with value.
func (c MultiMapCarrier) Set(key, value string) {
	c[key] = []string{value}
}

// Keys lists the keys in the carrier.
func (c MultiMapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}

	return keys
}

// AnyMapCarrier adapts an object-valued property map such as the application
// properties of an AMQP message. Values are coerced to strings on read:
// strings, byte slices, fmt.Stringer, booleans and numeric kinds convert;
// []string is multi-valued; anything else reads as absent.
type AnyMapCarrier map[string]any

// Get returns the first coerced value for key.
func (c AnyMapCarrier) Get(key string) string {
	if vs := c.Values(key); len(vs) > 0 {
		return vs[0]
	}

	return ""
}

// Values returns the coerced values for key.
func (c AnyMapCarrier) Values(key string) []string {
	v, ok := c[key]
	if !ok || v == nil {
		return nil
	}
	if vs, ok := v.([]string); ok {
		return vs
	}
	if s, ok := coerceString(v); ok {
		return []string{s}
	}

	return nil
}

// Set stores value as a string.
func (c AnyMapCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the keys in the carrier.
func (c AnyMapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}

	return keys
}

func coerceString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case fmt.Stringer:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.FormatInt(int64(x), 10), true
	case int8:
		return strconv.FormatInt(int64(x), 10), true
	case int16:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	}

	return "", false
}

// values reads key from g, honouring ValuesGetter when implemented.
func values(g Getter, key string) []string {
	if vg, ok := g.(ValuesGetter); ok {
		return vg.Values(key)
	}
	if v := g.Get(key); v != "" {
		return []string{v}
	}

	return nil
}
