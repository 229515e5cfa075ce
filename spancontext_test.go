package hoptrace

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoot(t *testing.T) {
	sc := NewRoot(true)
	assert.True(t, sc.IsValid())
	assert.True(t, sc.IsSampled())
	assert.False(t, sc.IsRemote())
	assert.False(t, sc.ParentSpanID().IsValid())
	assert.Equal(t, 0, sc.Baggage().Len())

	other := NewRoot(false)
	assert.False(t, other.IsSampled())
	assert.NotEqual(t, sc.TraceID(), other.TraceID())
}

func TestChild(t *testing.T) {
	parent := NewRoot(true).WithBaggage("team", "payments")
	child := Child(parent)

	assert.Equal(t, parent.TraceID(), child.TraceID())
	assert.Equal(t, parent.SpanID(), child.ParentSpanID())
	assert.NotEqual(t, parent.SpanID(), child.SpanID())
	assert.Equal(t, parent.IsSampled(), child.IsSampled())
	assert.True(t, parent.Baggage().Equal(child.Baggage()))
	assert.False(t, child.IsRemote())

	unsampled := Child(NewRoot(false))
	assert.False(t, unsampled.IsSampled())
}

func TestChild_InvalidParentStartsTrace(t *testing.T) {
	parent := SpanContext{}.WithBaggage("k", "v")
	child := Child(parent)

	require.True(t, child.IsValid())
	assert.False(t, child.ParentSpanID().IsValid())
	assert.Equal(t, "v", child.Baggage().Value("k"))
}

func TestWithBaggage_DoesNotModifyOriginal(t *testing.T) {
	sc := NewRoot(true)
	sc2 := WithBaggage(sc, "sender", "a")
	sc3 := WithBaggage(sc2, "sender", "b")

	assert.Equal(t, 0, sc.Baggage().Len())
	assert.Equal(t, "a", sc2.Baggage().Value("sender"))
	assert.Equal(t, "b", sc3.Baggage().Value("sender"))
	assert.Equal(t, sc.SpanID(), sc3.SpanID())
}

func TestSpanContext_String(t *testing.T) {
	sc := newRoot(
		mustTraceID(t, "0123456789abcdef0123456789abcdef"),
		mustSpanID(t, "abcdef0123456789"),
		true,
	)
	assert.Equal(t, "00-0123456789abcdef0123456789abcdef-abcdef0123456789-01", sc.String())
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.False(t, SpanContextFromContext(ctx).IsValid())
	assert.Nil(t, SpanFromContext(ctx))

	sc := NewRoot(true)
	ctx = ContextWithSpanContext(ctx, sc)
	assert.True(t, sc.Equal(SpanContextFromContext(ctx)))
	assert.Equal(t, sc.TraceID().String(), TraceID(ctx))
	assert.Equal(t, sc.SpanID().String(), SpanID(ctx))
}

func TestSpanContext_ConcurrentReaders(t *testing.T) {
	sc := NewRoot(true).WithBaggage("a", "1")

	var wg sync.WaitGroup
	results := make([]SpanContext, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = Child(sc).WithBaggage("worker", "x")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sc.Baggage().Len())
	for _, r := range results {
		assert.Equal(t, sc.TraceID(), r.TraceID())
		assert.Equal(t, 2, r.Baggage().Len())
	}
}

func TestRandomIDGenerator_NonZero(t *testing.T) {
	g := newRandomIDGenerator()
	seen := make(map[string]bool)
	for range 1000 {
		tid, sid := g.NewIDs(context.Background())
		require.True(t, tid.IsValid())
		require.True(t, sid.IsValid())
		require.False(t, seen[sid.String()])
		seen[sid.String()] = true
	}
}

func TestSpanContext_EqualComparesParentRemoteness(t *testing.T) {
	parent := NewRoot(true)
	remote := parent
	remote.remote = true

	local := parent.child(parent.spanID)
	fromRemote := remote.child(parent.spanID)

	assert.True(t, local.Equal(parent.child(parent.spanID)))
	assert.False(t, local.HasRemoteParent())
	assert.True(t, fromRemote.HasRemoteParent())
	assert.False(t, local.Equal(fromRemote))
}
