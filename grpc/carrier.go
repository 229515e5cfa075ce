package grpc

import (
	"github.com/arloliu/hoptrace"
	"google.golang.org/grpc/metadata"
)

// MetadataCarrier adapts gRPC metadata to the hoptrace carrier interfaces.
// Keys are lower-cased by metadata.MD.
type MetadataCarrier metadata.MD

// Get returns the first value for key, or "".
func (c MetadataCarrier) Get(key string) string {
	vals := metadata.MD(c).Get(key)
	if len(vals) == 0 {
		return ""
	}

	return vals[0]
}

// Values returns every value for key.
func (c MetadataCarrier) Values(key string) []string {
	return metadata.MD(c).Get(key)
}

// Set replaces the values for key.
func (c MetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

// Keys returns all metadata keys.
func (c MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}

	return keys
}

var (
	_ hoptrace.ValuesGetter = MetadataCarrier(nil)
	_ hoptrace.Setter       = MetadataCarrier(nil)
)
