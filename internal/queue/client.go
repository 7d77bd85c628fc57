package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ClientOptions configures the connection owner
type ClientOptions struct {
	// Queues are declared after every successful connect
	Queues []string
	// StartupDelay is waited once before the first connect
	StartupDelay time.Duration
	// ReconnectMaxDelay caps the exponential reconnect backoff
	ReconnectMaxDelay time.Duration
}

// Client owns the broker connection. It connects lazily in the background,
// reconnects with exponential backoff after the connection is lost and
// re-declares its queues each time.
type Client struct {
	dial Dialer
	opts ClientOptions

	mu      sync.RWMutex
	broker  Broker
	changed chan struct{}

	lost   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewClient(dial Dialer, opts ClientOptions) *Client {
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = 30 * time.Second
	}
	return &Client{
		dial:    dial,
		opts:    opts,
		changed: make(chan struct{}),
		lost:    make(chan struct{}, 1),
	}
}

// Start launches the connection loop, it returns immediately
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	if c.opts.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.StartupDelay):
		}
	}

	for {
		b, err := c.connect(ctx)
		if err != nil {
			return
		}
		c.setBroker(b)
		zap.L().Info("queue connected",
			zap.String("namespace", "queue"),
			zap.Strings("queues", c.opts.Queues))

		select {
		case <-ctx.Done():
			c.setBroker(nil)
			_ = b.Close()
			return
		case <-c.lost:
		}

		c.setBroker(nil)
		_ = b.Close()
		zap.L().Warn("queue connection lost, reconnecting",
			zap.String("namespace", "queue"))
	}
}

func (c *Client) connect(ctx context.Context) (Broker, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	if bo.InitialInterval > c.opts.ReconnectMaxDelay {
		bo.InitialInterval = c.opts.ReconnectMaxDelay
	}
	bo.MaxInterval = c.opts.ReconnectMaxDelay
	bo.MaxElapsedTime = 0

	var broker Broker
	op := func() error {
		b, err := c.dial(ctx)
		if err != nil {
			return err
		}
		for _, q := range c.opts.Queues {
			if err := b.Declare(ctx, q); err != nil {
				_ = b.Close()
				return err
			}
		}
		broker = b
		return nil
	}
	notify := func(err error, next time.Duration) {
		zap.L().Warn("queue connect failed",
			zap.String("namespace", "queue"),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return broker, nil
}

func (c *Client) setBroker(b Broker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broker = b
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Client) current() Broker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.broker
}

// markLost asks the loop to reconnect if b is still the live broker
func (c *Client) markLost(b Broker) {
	if b == nil || c.current() != b {
		return
	}
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

// await blocks until a broker is connected or ctx ends
func (c *Client) await(ctx context.Context) (Broker, error) {
	for {
		c.mu.RLock()
		b, changed := c.broker, c.changed
		c.mu.RUnlock()
		if b != nil {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// Connected reports whether a broker connection is live
func (c *Client) Connected() bool {
	return c.current() != nil
}

// Publish sends msg on the live connection. It fails fast with
// ErrNotConnected instead of waiting for a reconnect.
func (c *Client) Publish(ctx context.Context, queue string, msg Message) error {
	b := c.current()
	if b == nil {
		return ErrNotConnected
	}
	err := b.Publish(ctx, queue, msg)
	if err != nil && b.Ping(ctx) != nil {
		c.markLost(b)
	}
	return err
}

// Consume waits for a connection and starts consuming queue
func (c *Client) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	b, err := c.await(ctx)
	if err != nil {
		return nil, err
	}
	deliveries, err := b.Consume(ctx, queue, prefetch)
	if err != nil && b.Ping(ctx) != nil {
		c.markLost(b)
	}
	return deliveries, err
}

// HealthCheck pings the live broker and triggers a reconnect when it is gone
func (c *Client) HealthCheck(ctx context.Context) error {
	b := c.current()
	if b == nil {
		return ErrNotConnected
	}
	if err := b.Ping(ctx); err != nil {
		c.markLost(b)
		return err
	}
	return nil
}

// Close stops the connection loop and closes the live broker
func (c *Client) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}
