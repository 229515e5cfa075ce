// Package mem provides an in-memory, at-least-once message broker for tests
// and simulations. Every destination is a bounded FIFO queue. A delivery
// stays unacknowledged until Ack; Nack and RedeliverUnacked put it back.
package mem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/hoptrace/messaging"
)

// DefaultQueueSize is the capacity of each destination queue.
const DefaultQueueSize = 1024

// ErrQueueFull is returned when a send or requeue finds the queue full.
var ErrQueueFull = errors.New("mem: queue full")

// ErrUnknownDelivery is returned when acking or nacking a delivery the queue
// does not hold as unacknowledged.
var ErrUnknownDelivery = errors.New("mem: unknown delivery")

// Broker routes envelopes to per-destination queues.
type Broker struct {
	mu      sync.Mutex
	size    int
	queues  map[string]*Queue
	closed  bool
	sendErr error
}

// Option configures a Broker.
type Option func(*Broker)

// WithQueueSize sets the capacity of every queue.
func WithQueueSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.size = n
		}
	}
}

// NewBroker creates an empty Broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		size:   DefaultQueueSize,
		queues: make(map[string]*Queue),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// FailSends makes every following Send return err. A nil err restores
// normal operation.
func (b *Broker) FailSends(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

// Send enqueues a copy of env on its destination queue. It blocks while the
// queue is full, until ctx is done.
func (b *Broker) Send(ctx context.Context, env *messaging.Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return messaging.ErrClosed
	}
	if err := b.sendErr; err != nil {
		b.mu.Unlock()
		return err
	}
	q := b.queueLocked(env.Destination)
	b.mu.Unlock()

	return q.enqueue(ctx, env.Clone())
}

// Queue returns the queue for destination, creating it if needed. Queues
// implement messaging.Receiver and messaging.Nacker.
func (b *Broker) Queue(destination string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.queueLocked(destination)
}

func (b *Broker) queueLocked(destination string) *Queue {
	q, ok := b.queues[destination]
	if !ok {
		q = newQueue(destination, b.size)
		if b.closed {
			q.close()
		}
		b.queues[destination] = q
	}

	return q
}

// Close closes every queue. Receivers return messaging.ErrClosed and sends
// fail. Close is idempotent.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		q.close()
	}

	return nil
}

type message struct {
	seq      uint64
	env      messaging.Envelope
	attempts int
}

// Queue is a single destination. It is safe for concurrent use.
type Queue struct {
	name      string
	ch        chan *message
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	seq     uint64
	unacked map[uint64]*message
}

func newQueue(name string, size int) *Queue {
	return &Queue{
		name:    name,
		ch:      make(chan *message, size),
		done:    make(chan struct{}),
		unacked: make(map[uint64]*message),
	}
}

// Name returns the destination name.
func (q *Queue) Name() string { return q.name }

// Pending returns the number of messages waiting to be received.
func (q *Queue) Pending() int { return len(q.ch) }

// Unacked returns the number of received but unacknowledged deliveries.
func (q *Queue) Unacked() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.unacked)
}

func (q *Queue) enqueue(ctx context.Context, env messaging.Envelope) error {
	q.mu.Lock()
	q.seq++
	m := &message{seq: q.seq, env: env}
	q.mu.Unlock()

	select {
	case <-q.done:
		return messaging.ErrClosed
	default:
	}

	select {
	case q.ch <- m:
		return nil
	case <-q.done:
		return messaging.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done or the queue is
// closed. Each receive counts as one delivery attempt.
func (q *Queue) Receive(ctx context.Context) (*messaging.Delivery, error) {
	select {
	case <-q.done:
		return nil, messaging.ErrClosed
	default:
	}

	select {
	case m := <-q.ch:
		q.mu.Lock()
		m.attempts++
		q.unacked[m.seq] = m
		q.mu.Unlock()

		return &messaging.Delivery{
			Envelope: m.env.Clone(),
			Attempt:  m.attempts,
			Handle:   m.seq,
		}, nil
	case <-q.done:
		return nil, messaging.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack removes the delivery from the queue for good.
func (q *Queue) Ack(_ context.Context, d *messaging.Delivery) error {
	_, err := q.take(d)
	return err
}

// Nack puts the delivery back at the tail of the queue. When the queue is
// full the delivery stays unacknowledged, so RedeliverUnacked can retry it.
func (q *Queue) Nack(_ context.Context, d *messaging.Delivery) error {
	m, err := q.take(d)
	if err != nil {
		return err
	}

	return q.requeue(m)
}

// RedeliverUnacked requeues every unacknowledged delivery, as a broker does
// when a lock or visibility timeout expires. It returns how many were
// requeued; those that did not fit stay unacknowledged.
func (q *Queue) RedeliverUnacked() (int, error) {
	q.mu.Lock()
	pending := make([]*message, 0, len(q.unacked))
	for seq, m := range q.unacked {
		pending = append(pending, m)
		delete(q.unacked, seq)
	}
	q.mu.Unlock()

	var errs []error
	n := 0
	for _, m := range pending {
		if err := q.requeue(m); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}

	return n, errors.Join(errs...)
}

func (q *Queue) take(d *messaging.Delivery) (*message, error) {
	seq, ok := d.Handle.(uint64)
	if !ok {
		return nil, fmt.Errorf("%w: handle %v", ErrUnknownDelivery, d.Handle)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.unacked[seq]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %q", ErrUnknownDelivery, d.Envelope.ID, q.name)
	}
	delete(q.unacked, seq)

	return m, nil
}

// requeue sends m back to the queue, or returns it to the unacknowledged
// set when the queue is full.
func (q *Queue) requeue(m *message) error {
	select {
	case q.ch <- m:
		return nil
	default:
	}

	q.mu.Lock()
	q.unacked[m.seq] = m
	q.mu.Unlock()

	return fmt.Errorf("%w: %q", ErrQueueFull, q.name)
}

func (q *Queue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

var (
	_ messaging.Sender   = (*Broker)(nil)
	_ messaging.Receiver = (*Queue)(nil)
	_ messaging.Nacker   = (*Queue)(nil)
)
