package hoptrace

import (
	"net/url"
	"strings"
)

const (
	// BaggageHeader is the carrier key holding the encoded baggage.
	BaggageHeader = "baggage"

	upperHex = "0123456789ABCDEF"
)

// encodeBaggage renders b as "k1=v1,k2=v2" in insertion order.
func encodeBaggage(b Baggage) string {
	var sb strings.Builder
	first := true
	for k, v := range b.All() {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		escapeBaggage(&sb, k)
		sb.WriteByte('=')
		escapeBaggage(&sb, v)
	}

	return sb.String()
}

func shouldEscape(c byte) bool {
	if c <= ' ' || c >= 0x7f {
		return true
	}
	switch c {
	case '%', '=', ',', ';', '"', '\\':
		return true
	}

	return false
}

func escapeBaggage(sb *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldEscape(c) {
			sb.WriteByte('%')
			sb.WriteByte(upperHex[c>>4])
			sb.WriteByte(upperHex[c&0x0f])

			continue
		}
		sb.WriteByte(c)
	}
}

// decodeBaggage parses a baggage header value. Members that cannot be decoded
// are skipped and counted in dropped; the rest are kept. Properties after ';'
// are ignored and a repeated key keeps its last value. There is no member
// limit, so whatever encodeBaggage wrote decodes in full.
func decodeBaggage(v string) (b Baggage, dropped int) {
	for member := range strings.SplitSeq(v, ",") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		if i := strings.IndexByte(member, ';'); i >= 0 {
			member = member[:i]
		}

		rawKey, rawValue, ok := strings.Cut(member, "=")
		if !ok {
			dropped++
			continue
		}
		key, err := url.PathUnescape(strings.TrimSpace(rawKey))
		if err != nil || key == "" {
			dropped++
			continue
		}
		value, err := url.PathUnescape(strings.TrimSpace(rawValue))
		if err != nil {
			dropped++
			continue
		}

		b = b.Set(key, value)
	}

	return b, dropped
}
