package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/hoptrace/messaging"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// System is the messaging.system attribute value for NATS.
const System = "nats"

// DefaultMaxWait bounds each pull in Receive before it polls again.
// Cancelling the Receive context ends a pull early.
const DefaultMaxWait = 5 * time.Second

// Publisher is the subset of jetstream.JetStream the Broker sends through.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Puller is the subset of jetstream.Consumer the Broker receives from.
type Puller interface {
	Next(opts ...jetstream.FetchOpt) (jetstream.Msg, error)
}

// Broker is a messaging.Sender, Receiver and Nacker over JetStream.
// Envelope metadata travels as NATS headers and the envelope ID as the
// Nats-Msg-Id header, so JetStream de-duplicates retried sends.
type Broker struct {
	pub     Publisher
	puller  Puller
	maxWait time.Duration
}

// Option configures a Broker.
type Option func(*Broker)

// WithPuller sets the consumer Receive pulls from. Without it, the Broker
// can only send and ack.
func WithPuller(p Puller) Option {
	return func(b *Broker) {
		b.puller = p
	}
}

// WithMaxWait sets how long a single pull waits for a message.
func WithMaxWait(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.maxWait = d
		}
	}
}

// NewBroker creates a Broker publishing through pub.
//
// Panics if pub is nil.
func NewBroker(pub Publisher, opts ...Option) *Broker {
	if pub == nil {
		panic("hoptrace/nats: Publisher must not be nil")
	}

	b := &Broker{pub: pub, maxWait: DefaultMaxWait}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Send publishes env to the subject env.Destination.
func (b *Broker) Send(ctx context.Context, env *messaging.Envelope) error {
	msg := &nats.Msg{
		Subject: env.Destination,
		Data:    env.Payload,
		Header:  make(nats.Header, len(env.Metadata)+1),
	}
	for k, v := range env.Metadata {
		msg.Header.Set(k, v)
	}
	if env.ID != "" {
		msg.Header.Set(nats.MsgIdHdr, env.ID)
	}

	if _, err := b.pub.PublishMsg(ctx, msg); err != nil {
		return closedOr(err)
	}

	return nil
}

// Receive pulls the next message until one arrives or ctx is done. Each
// pull is bound to ctx and lasts at most the max-wait interval, so
// cancelling ctx ends an in-flight pull at once.
func (b *Broker) Receive(ctx context.Context) (*messaging.Delivery, error) {
	if b.puller == nil {
		return nil, errors.New("hoptrace/nats: broker has no puller")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := b.pull(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if isIdle(err) {
				continue
			}

			return nil, closedOr(err)
		}

		return toDelivery(msg), nil
	}
}

func (b *Broker) pull(ctx context.Context) (jetstream.Msg, error) {
	pullCtx, cancel := context.WithTimeout(ctx, b.maxWait)
	defer cancel()

	return b.puller.Next(jetstream.FetchContext(pullCtx))
}

// Ack acknowledges the delivery's JetStream message.
func (b *Broker) Ack(_ context.Context, d *messaging.Delivery) error {
	msg, err := jetstreamMsg(d)
	if err != nil {
		return err
	}

	return msg.Ack()
}

// Nack asks JetStream to redeliver the message now.
func (b *Broker) Nack(_ context.Context, d *messaging.Delivery) error {
	msg, err := jetstreamMsg(d)
	if err != nil {
		return err
	}

	return msg.Nak()
}

func jetstreamMsg(d *messaging.Delivery) (jetstream.Msg, error) {
	msg, ok := d.Handle.(jetstream.Msg)
	if !ok || msg == nil {
		return nil, fmt.Errorf("hoptrace/nats: delivery %q has no jetstream message", d.Envelope.ID)
	}

	return msg, nil
}

// toDelivery converts a JetStream message into a delivery. Multi-valued
// headers are joined with ",".
func toDelivery(msg jetstream.Msg) *messaging.Delivery {
	headers := msg.Headers()
	env := messaging.Envelope{
		ID:          headers.Get(nats.MsgIdHdr),
		Destination: msg.Subject(),
		Payload:     msg.Data(),
		Metadata:    make(map[string]string, len(headers)),
	}
	for k, vals := range headers {
		if k == nats.MsgIdHdr {
			continue
		}
		env.Metadata[k] = strings.Join(vals, ",")
	}

	d := &messaging.Delivery{Envelope: env, Attempt: 1, Handle: msg}
	if md, err := msg.Metadata(); err == nil && md != nil {
		if md.NumDelivered > 0 {
			d.Attempt = int(md.NumDelivered)
		}
		if d.Envelope.ID == "" {
			d.Envelope.ID = md.Stream + ":" + strconv.FormatUint(md.Sequence.Stream, 10)
		}
	}

	return d
}

func isIdle(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, jetstream.ErrNoMessages) ||
		errors.Is(err, context.DeadlineExceeded)
}

func closedOr(err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrConnectionDraining) {
		return fmt.Errorf("%w: %w", messaging.ErrClosed, err)
	}

	return err
}

var (
	_ messaging.Sender   = (*Broker)(nil)
	_ messaging.Receiver = (*Broker)(nil)
	_ messaging.Nacker   = (*Broker)(nil)
)
