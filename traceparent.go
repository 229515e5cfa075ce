package hoptrace

import (
	"encoding/hex"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

const (
	// TraceparentHeader is the carrier key holding the trace identity.
	TraceparentHeader = "traceparent"

	traceparentVersion = "00"
	traceparentLen     = 55
)

// formatTraceparent renders "00-<trace id>-<span id>-<flags>".
func formatTraceparent(sc SpanContext) string {
	var buf [traceparentLen]byte
	copy(buf[0:2], traceparentVersion)
	buf[2] = '-'
	hex.Encode(buf[3:35], sc.traceID[:])
	buf[35] = '-'
	hex.Encode(buf[36:52], sc.spanID[:])
	buf[52] = '-'
	hex.Encode(buf[53:55], []byte{byte(sc.flags)})

	return string(buf[:])
}

// parseTraceparent decodes a version 00 traceparent value. The returned
// SpanContext is marked remote and carries no baggage.
func parseTraceparent(v string) (SpanContext, error) {
	if len(v) != traceparentLen {
		return SpanContext{}, fmt.Errorf("traceparent length %d", len(v))
	}
	if v[2] != '-' || v[35] != '-' || v[52] != '-' {
		return SpanContext{}, fmt.Errorf("traceparent delimiters in %q", v)
	}
	if v[:2] != traceparentVersion {
		return SpanContext{}, fmt.Errorf("unsupported traceparent version %q", v[:2])
	}

	var sc SpanContext
	if err := decodeLowerHex(sc.traceID[:], v[3:35]); err != nil {
		return SpanContext{}, fmt.Errorf("trace id: %w", err)
	}
	if err := decodeLowerHex(sc.spanID[:], v[36:52]); err != nil {
		return SpanContext{}, fmt.Errorf("span id: %w", err)
	}
	var flags [1]byte
	if err := decodeLowerHex(flags[:], v[53:55]); err != nil {
		return SpanContext{}, fmt.Errorf("flags: %w", err)
	}
	if !sc.traceID.IsValid() {
		return SpanContext{}, fmt.Errorf("all-zero trace id")
	}
	if !sc.spanID.IsValid() {
		return SpanContext{}, fmt.Errorf("all-zero span id")
	}

	sc.flags = trace.TraceFlags(flags[0]) & trace.FlagsSampled
	sc.remote = true

	return sc, nil
}

// decodeLowerHex rejects uppercase digits, which hex.Decode would accept.
func decodeLowerHex(dst []byte, s string) error {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid hex digit %q", c)
		}
	}
	_, err := hex.Decode(dst, []byte(s))

	return err
}
