package hoptrace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaggageHelpers(t *testing.T) {
	ctx := context.Background()
	var err error

	ctx, err = SetBaggage(ctx, "key", "value")
	require.NoError(t, err)
	assert.Equal(t, "value", GetBaggage(ctx, "key"))
	assert.Equal(t, "value", AllBaggage(ctx)["key"])

	ctx = MustSetBaggage(ctx, "key2", "value2")
	assert.Equal(t, "value2", GetBaggage(ctx, "key2"))

	_, err = SetBaggage(ctx, "", "value")
	require.ErrorIs(t, err, ErrInvalidBaggage)

	assert.Panics(t, func() { MustSetBaggage(ctx, "", "x") })
}

func TestBaggage_SetIsCopyOnWrite(t *testing.T) {
	b1 := NewBaggage("team", "payments")
	b2 := b1.Set("team", "billing")
	b3 := b1.Set("region", "eu")

	assert.Equal(t, "payments", b1.Value("team"))
	assert.Equal(t, "billing", b2.Value("team"))
	assert.Equal(t, 1, b1.Len())
	assert.Equal(t, []string{"team", "region"}, b3.Keys())
}

func TestBaggage_OverwriteKeepsPosition(t *testing.T) {
	b := NewBaggage("a", "1", "b", "2", "c", "3").Set("b", "20").Set("d", "4")

	assert.Equal(t, []string{"a", "b", "c", "d"}, b.Keys())
	assert.Equal(t, "20", b.Value("b"))
}

func TestBaggage_Merge(t *testing.T) {
	base := NewBaggage("sender", "upstream", "team", "payments")
	merged := base.Merge(NewBaggage("sender", "AsyncApp.Sender", "tier", "gold"))

	assert.Equal(t, []string{"sender", "team", "tier"}, merged.Keys())
	assert.Equal(t, "AsyncApp.Sender", merged.Value("sender"))
	assert.Equal(t, "upstream", base.Value("sender"))
}

func TestBaggage_EmptyKeyIgnored(t *testing.T) {
	b := NewBaggage("", "x", "k", "v", "dangling")
	assert.Equal(t, map[string]string{"k": "v"}, b.Map())

	_, ok := b.Get("dangling")
	assert.False(t, ok)
}

func TestBaggage_Equal(t *testing.T) {
	assert.True(t, NewBaggage("a", "1", "b", "2").Equal(NewBaggage("a", "1", "b", "2")))
	assert.False(t, NewBaggage("a", "1", "b", "2").Equal(NewBaggage("b", "2", "a", "1")))
	assert.False(t, NewBaggage("a", "1").Equal(NewBaggage("a", "2")))
	assert.True(t, Baggage{}.Equal(NewBaggage()))
}

func TestBaggage_AllStopsEarly(t *testing.T) {
	b := NewBaggage("a", "1", "b", "2", "c", "3")

	var seen []string
	for k := range b.All() {
		seen = append(seen, k)
		if k == "b" {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}
