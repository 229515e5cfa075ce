package hoptrace

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// randomIDGenerator produces random trace and span IDs.
// It satisfies the OTel SDK IDGenerator contract so custom generators
// written for the SDK can be plugged into a Tracer unchanged.
type randomIDGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ sdktrace.IDGenerator = (*randomIDGenerator)(nil)

func newRandomIDGenerator() *randomIDGenerator {
	var seed [32]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = crand.Read(seed[:])

	return &randomIDGenerator{rng: rand.New(rand.NewChaCha8(seed))} //nolint:gosec // ids, not secrets
}

// NewIDs returns a non-zero trace ID and span ID.
func (g *randomIDGenerator) NewIDs(_ context.Context) (trace.TraceID, trace.SpanID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var tid trace.TraceID
	for !tid.IsValid() {
		binary.BigEndian.PutUint64(tid[:8], g.rng.Uint64())
		binary.BigEndian.PutUint64(tid[8:], g.rng.Uint64())
	}

	return tid, g.newSpanIDLocked()
}

// NewSpanID returns a non-zero span ID.
func (g *randomIDGenerator) NewSpanID(_ context.Context, _ trace.TraceID) trace.SpanID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.newSpanIDLocked()
}

func (g *randomIDGenerator) newSpanIDLocked() trace.SpanID {
	var sid trace.SpanID
	for !sid.IsValid() {
		binary.BigEndian.PutUint64(sid[:], g.rng.Uint64())
	}

	return sid
}

// defaultIDs backs the package-level NewRoot and Child helpers.
var defaultIDs = newRandomIDGenerator()
