// Package channel provides the fixed-capacity queue every pipeline stage
// communicates through.
package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSendTimeout bounds a blocking send when the config leaves it unset
const DefaultSendTimeout = 250 * time.Millisecond

// OverflowPolicy decides what a send does when the channel is full
type OverflowPolicy int

const (
	// DropOldest discards the oldest unread item to make room. Used for raw
	// frames where a fresh frame is worth more than a backlog.
	DropOldest OverflowPolicy = iota

	// BlockWithTimeout waits up to the send timeout for room and then
	// reports ErrSendTimeout. Used between stages so paid-for work is not
	// silently lost.
	BlockWithTimeout
)

// String implements fmt.Stringer
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case BlockWithTimeout:
		return "block"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Config describes one bounded channel
type Config struct {
	Name        string
	Capacity    int
	Policy      OverflowPolicy
	SendTimeout time.Duration
}

// Stats is a point-in-time snapshot of channel counters
type Stats struct {
	Sent         uint64
	Received     uint64
	Dropped      uint64
	SendTimeouts uint64
	Pending      int
}

// Bounded is a fixed-capacity multi-producer/multi-consumer queue.
// Closing it is the end-of-stream signal: receivers drain what is left and
// then get ErrClosed. Close is safe to call from any goroutine, any number
// of times, and never races with senders.
type Bounded[T any] struct {
	name        string
	items       chan T
	policy      OverflowPolicy
	sendTimeout time.Duration

	closed    chan struct{}
	closeOnce sync.Once

	sent         atomic.Uint64
	received     atomic.Uint64
	dropped      atomic.Uint64
	sendTimeouts atomic.Uint64
}

// New creates a bounded channel. Capacity below 1 is raised to 1.
func New[T any](cfg Config) *Bounded[T] {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	return &Bounded[T]{
		name:        cfg.Name,
		items:       make(chan T, cfg.Capacity),
		policy:      cfg.Policy,
		sendTimeout: cfg.SendTimeout,
		closed:      make(chan struct{}),
	}
}

// Name returns the channel name used in logs and metrics
func (b *Bounded[T]) Name() string { return b.name }

// Policy returns the overflow policy
func (b *Bounded[T]) Policy() OverflowPolicy { return b.policy }

// Len returns the number of unread items
func (b *Bounded[T]) Len() int { return len(b.items) }

// Cap returns the channel capacity
func (b *Bounded[T]) Cap() int { return cap(b.items) }

// Send enqueues v according to the overflow policy.
// It returns ErrClosed once the channel has been closed.
func (b *Bounded[T]) Send(ctx context.Context, v T) error {
	if b.IsClosed() {
		return ErrClosed
	}

	if b.policy == DropOldest {
		b.sendDropOldest(v)
		return nil
	}
	return b.sendBlocking(ctx, v)
}

func (b *Bounded[T]) sendDropOldest(v T) {
	for {
		select {
		case b.items <- v:
			b.sent.Add(1)
			return
		default:
		}

		// Full: discard the oldest unread item and retry
		select {
		case <-b.items:
			b.dropped.Add(1)
		default:
		}
	}
}

func (b *Bounded[T]) sendBlocking(ctx context.Context, v T) error {
	select {
	case b.items <- v:
		b.sent.Add(1)
		return nil
	default:
	}

	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()

	select {
	case b.items <- v:
		b.sent.Add(1)
		return nil
	case <-timer.C:
		b.sendTimeouts.Add(1)
		return ErrSendTimeout
	case <-b.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv dequeues the next item, waiting at most timeout.
// A non-positive timeout makes it a non-blocking poll.
// Errors: ErrRecvTimeout, ErrClosed (closed and drained), or the context error.
func (b *Bounded[T]) Recv(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	select {
	case v := <-b.items:
		b.received.Add(1)
		return v, nil
	default:
	}

	if b.IsClosed() {
		return b.drainOne()
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if timeout <= 0 {
		return zero, ErrRecvTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-b.items:
		b.received.Add(1)
		return v, nil
	case <-b.closed:
		return b.drainOne()
	case <-timer.C:
		return zero, ErrRecvTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (b *Bounded[T]) drainOne() (T, error) {
	select {
	case v := <-b.items:
		b.received.Add(1)
		return v, nil
	default:
		var zero T
		return zero, ErrClosed
	}
}

// Close marks the end of the stream. Idempotent.
func (b *Bounded[T]) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}

// IsClosed reports whether Close has been called
func (b *Bounded[T]) IsClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the channel is closed
func (b *Bounded[T]) Done() <-chan struct{} {
	return b.closed
}

// Drain removes and returns every unread item without blocking
func (b *Bounded[T]) Drain() []T {
	var out []T
	for {
		select {
		case v := <-b.items:
			out = append(out, v)
		default:
			return out
		}
	}
}

// Stats returns a snapshot of the channel counters
func (b *Bounded[T]) Stats() Stats {
	return Stats{
		Sent:         b.sent.Load(),
		Received:     b.received.Load(),
		Dropped:      b.dropped.Load(),
		SendTimeouts: b.sendTimeouts.Load(),
		Pending:      len(b.items),
	}
}
