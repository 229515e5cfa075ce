package nats

import (
	"context"

	"github.com/arloliu/hoptrace"
	"github.com/nats-io/nats.go"
)

// headerCarrier adapts nats.Header to the hoptrace carrier interfaces.
type headerCarrier nats.Header

// Get returns the first value for key, or "".
func (c headerCarrier) Get(key string) string {
	vals := nats.Header(c).Values(key)
	if len(vals) > 0 {
		return vals[0]
	}

	return ""
}

// Values returns every value for key.
func (c headerCarrier) Values(key string) []string {
	return nats.Header(c).Values(key)
}

// Set replaces the values for key.
func (c headerCarrier) Set(key, value string) {
	nats.Header(c).Set(key, value)
}

// Keys returns all header keys.
func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}

	return keys
}

var (
	_ hoptrace.ValuesGetter = headerCarrier(nil)
	_ hoptrace.Setter       = headerCarrier(nil)
)

// HeaderCarrier returns h as a carrier for Propagator.Inject and Extract.
func HeaderCarrier(h nats.Header) hoptrace.ValuesGetter {
	return headerCarrier(h)
}

// InjectNATS writes the ambient SpanContext of ctx into msg's headers.
// If msg.Header is nil, it is initialized.
func InjectNATS(ctx context.Context, prop *hoptrace.Propagator, msg *nats.Msg) {
	if msg.Header == nil {
		msg.Header = make(nats.Header)
	}

	prop.InjectContext(ctx, headerCarrier(msg.Header))
}

// ExtractNATS returns ctx carrying the SpanContext read from header. A nil
// or malformed header yields a fresh root, as Propagator.Extract does.
func ExtractNATS(ctx context.Context, prop *hoptrace.Propagator, header nats.Header) context.Context {
	return prop.ExtractContext(ctx, headerCarrier(header))
}
