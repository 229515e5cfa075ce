package hoptrace

import "errors"

var (
	// ErrMalformedCarrier is reported when Extract recovers from a missing or
	// unparseable traceparent, or drops baggage members it could not decode.
	// It never escapes Extract; it is only observable through Diagnostics.
	ErrMalformedCarrier = errors.New("hoptrace: malformed carrier")

	// ErrSpanMisuse is reported when an ended span is mutated or ended again.
	ErrSpanMisuse = errors.New("hoptrace: span used after end")

	// ErrQueueFull is reported when a finished span is dropped because the
	// processor queue is at capacity.
	ErrQueueFull = errors.New("hoptrace: span queue full")

	// ErrExport wraps failures returned by an Exporter.
	ErrExport = errors.New("hoptrace: export failed")

	// ErrInvalidBaggage is returned when a baggage key is empty.
	ErrInvalidBaggage = errors.New("hoptrace: invalid baggage")
)
