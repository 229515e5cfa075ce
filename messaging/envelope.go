package messaging

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// ErrBroker wraps every failure reported by a broker collaborator.
var ErrBroker = errors.New("messaging: broker failure")

// ErrClosed is returned by a Receiver once it will yield no more deliveries.
var ErrClosed = errors.New("messaging: broker closed")

// Envelope is the unit handed to a broker. Metadata is the trace carrier;
// the payload is opaque and never inspected.
type Envelope struct {
	ID          string
	Destination string
	Payload     []byte
	Metadata    map[string]string
}

// Clone returns a deep copy of e.
func (e Envelope) Clone() Envelope {
	out := e
	out.Payload = slices.Clone(e.Payload)
	out.Metadata = maps.Clone(e.Metadata)

	return out
}

// Delivery is one receive of an Envelope. Attempt starts at 1 and grows with
// every redelivery. Handle is broker-specific and used to ack or nack.
type Delivery struct {
	Envelope Envelope
	Attempt  int
	Handle   any
}

// Handler processes a message. Returning an error leaves the message
// unacknowledged (or nacks it when the receiver supports that).
type Handler func(ctx context.Context, env *Envelope) error

// Sender hands envelopes to a broker.
type Sender interface {
	Send(ctx context.Context, env *Envelope) error
}

// Receiver yields deliveries from a broker. Receive blocks until a delivery
// is available, ctx is done, or the broker is closed (ErrClosed).
type Receiver interface {
	Receive(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
}

// Nacker is implemented by receivers that can return a delivery to the
// broker immediately instead of waiting for redelivery.
type Nacker interface {
	Nack(ctx context.Context, d *Delivery) error
}
