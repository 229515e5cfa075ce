package messaging

import (
	"github.com/arloliu/hoptrace"
)

// DefaultSystem is the messaging.system attribute when none is configured.
const DefaultSystem = "hoptrace"

// options holds configuration for producers and consumers.
type options struct {
	system        string
	group         string
	staticBaggage hoptrace.Baggage
	baggageAttrs  bool
	concurrency   int
	idFunc        func() string
	bodyLimit     int
}

func defaultOptions() options {
	return options{
		system:       DefaultSystem,
		baggageAttrs: true,
		concurrency:  1,
	}
}

// Option configures a Producer or a Consumer.
type Option func(*options)

// WithSystem sets the messaging.system attribute, e.g. "nats".
func WithSystem(system string) Option {
	return func(o *options) {
		if system != "" {
			o.system = system
		}
	}
}

// WithConsumerGroup sets the messaging.consumer.group.name attribute.
func WithConsumerGroup(group string) Option {
	return func(o *options) {
		o.group = group
	}
}

// WithStaticBaggage adds baggage members to every message a Producer sends.
// kv is a list of key, value pairs; they override ambient members with the
// same key.
func WithStaticBaggage(kv ...string) Option {
	return func(o *options) {
		o.staticBaggage = o.staticBaggage.Merge(hoptrace.NewBaggage(kv...))
	}
}

// WithBaggageAttributes controls whether a Consumer copies the extracted
// baggage onto its span as "baggage.<key>" attributes. Default is true.
func WithBaggageAttributes(enabled bool) Option {
	return func(o *options) {
		o.baggageAttrs = enabled
	}
}

// WithConcurrency bounds the deliveries Consumer.Run processes at once.
// Values below 1 are treated as 1.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = max(n, 1)
	}
}

// WithIDFunc sets the envelope id generator. Defaults to random UUIDs.
func WithIDFunc(f func() string) Option {
	return func(o *options) {
		o.idFunc = f
	}
}

// WithBodyInEvents records up to limit bytes of the message body on the
// "message sent" and "message processed" events. Off by default since bodies
// may carry sensitive data.
func WithBodyInEvents(limit int) Option {
	return func(o *options) {
		o.bodyLimit = max(limit, 0)
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return o
}
