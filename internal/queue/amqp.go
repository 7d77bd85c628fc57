package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cast"
)

// AMQPBroker is the RabbitMQ driver. Queues are durable quorum queues so the
// broker tracks redeliveries in the x-delivery-count header.
type AMQPBroker struct {
	conn  *amqp.Connection
	pubMu sync.Mutex
	pubCh *amqp.Channel
}

var _ Broker = (*AMQPBroker)(nil)

func DialAMQP(url string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}
	return &AMQPBroker{conn: conn, pubCh: ch}, nil
}

func AMQPDialer(url string) Dialer {
	return func(context.Context) (Broker, error) {
		return DialAMQP(url)
	}
}

func (b *AMQPBroker) Declare(_ context.Context, name string) error {
	// a failed declare closes its channel, keep it off the publish channel
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	_, err = ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	})
	return err
}

func (b *AMQPBroker) Publish(ctx context.Context, queue string, msg Message) error {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	confirm, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now(),
		Body:         msg.Body,
	})
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("amqp publish not confirmed by broker")
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- &amqpDelivery{msg: m}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *AMQPBroker) Ping(context.Context) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

func (b *AMQPBroker) Close() error {
	b.pubMu.Lock()
	_ = b.pubCh.Close()
	b.pubMu.Unlock()
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

type amqpDelivery struct {
	msg  amqp.Delivery
	once sync.Once
}

func (d *amqpDelivery) MessageID() string { return d.msg.MessageId }
func (d *amqpDelivery) Body() []byte      { return d.msg.Body }

func (d *amqpDelivery) Attempt() int {
	return deliveryAttempt(d.msg.Headers)
}

func (d *amqpDelivery) Ack() error {
	var err error
	d.once.Do(func() {
		err = d.msg.Ack(false)
	})
	return err
}

// Nack holds the message for delay then requeues it. If the channel closes
// first the broker requeues it on its own.
func (d *amqpDelivery) Nack(delay time.Duration) error {
	var err error
	d.once.Do(func() {
		if delay <= 0 {
			err = d.msg.Nack(false, true)
			return
		}
		time.AfterFunc(delay, func() {
			_ = d.msg.Nack(false, true)
		})
	})
	return err
}

// deliveryAttempt converts the quorum queue redelivery counter to a 1-based attempt
func deliveryAttempt(headers amqp.Table) int {
	if headers == nil {
		return 1
	}
	v, ok := headers["x-delivery-count"]
	if !ok {
		return 1
	}
	return cast.ToInt(v) + 1
}
