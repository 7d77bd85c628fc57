// Package queue carries notification jobs between the order pipeline and the
// notifier worker. Delivery is at-least-once: a job stays on its queue until a
// consumer acknowledges it.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConnected = errors.New("queue: not connected")
	ErrClosed       = errors.New("queue: broker closed")
	ErrNoSuchQueue  = errors.New("queue: queue not declared")
)

// Message is a persistent job body with a producer assigned id
type Message struct {
	ID          string
	ContentType string
	Body        []byte
}

// Delivery is one in-flight message. Exactly one of Ack or Nack should be
// called, later calls are no-ops.
type Delivery interface {
	MessageID() string
	Body() []byte
	// Attempt is the 1-based delivery count of this message
	Attempt() int
	Ack() error
	// Nack returns the message to its queue, visible again after delay
	Nack(delay time.Duration) error
}

// Broker is a connected queue backend
type Broker interface {
	// Declare creates the durable queue if it does not exist
	Declare(ctx context.Context, name string) error
	Publish(ctx context.Context, queue string, msg Message) error
	// Consume streams deliveries with at most prefetch unacknowledged at once.
	// The channel closes when ctx ends or the connection is lost.
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a new broker connection
type Dialer func(ctx context.Context) (Broker, error)
