package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	jsoniter "github.com/json-iterator/go"
	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/internal/queue"
	"github.com/ninzstore/storefront/pkg/metrics"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// QueueClient is the part of queue.Client the worker needs
type QueueClient interface {
	Consume(ctx context.Context, queue string, prefetch int) (<-chan queue.Delivery, error)
	Publish(ctx context.Context, queue string, msg queue.Message) error
	HealthCheck(ctx context.Context) error
}

type WorkerOptions struct {
	Queue       string
	DeadQueue   string
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
	// SendTimeout bounds one email send. Sends are not cut short by shutdown.
	SendTimeout time.Duration
	// ResumeDelay is waited before consuming again after the delivery stream ends
	ResumeDelay time.Duration
}

// Worker drains the notification queue and sends confirmation emails.
// A job is acked only after its email was sent. Failed sends are returned to
// the queue until MaxAttempts, then the job is dead lettered.
type Worker struct {
	client QueueClient
	sender Sender
	bus    EventBus.Bus
	opts   WorkerOptions
}

func NewWorker(client QueueClient, sender Sender, bus EventBus.Bus, opts WorkerOptions) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.DeadQueue == "" {
		opts.DeadQueue = opts.Queue + ".dead"
	}
	if opts.ResumeDelay <= 0 {
		opts.ResumeDelay = time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	return &Worker{client: client, sender: sender, bus: bus, opts: opts}
}

// Run consumes until ctx ends, then waits for in-flight jobs
func (w *Worker) Run(ctx context.Context) error {
	pool, err := ants.NewPool(w.opts.Concurrency)
	if err != nil {
		return fmt.Errorf("notify worker pool: %w", err)
	}
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		pool.Release()
	}()

	zap.L().Info("notify worker started",
		zap.String("namespace", "notify"),
		zap.String("queue", w.opts.Queue),
		zap.Int("concurrency", w.opts.Concurrency))

	for {
		deliveries, err := w.client.Consume(ctx, w.opts.Queue, w.opts.Concurrency)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Warn("notify consume failed",
				zap.String("namespace", "notify"),
				zap.Error(err))
		} else {
			for d := range deliveries {
				d := d
				wg.Add(1)
				if err := pool.Submit(func() {
					defer wg.Done()
					w.handle(ctx, d)
				}); err != nil {
					wg.Done()
					_ = d.Nack(w.opts.RetryDelay)
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Warn("notify delivery stream ended, resuming",
				zap.String("namespace", "notify"))
			_ = w.client.HealthCheck(ctx)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.opts.ResumeDelay):
		}
	}
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	defer func() {
		if err := recover(); err != nil {
			zap.L().Error("notify job panic",
				zap.String("namespace", "notify"),
				zap.Any("error", err))
			_ = d.Nack(w.opts.RetryDelay)
		}
	}()

	var job domain.NotificationJob
	if err := json.Unmarshal(d.Body(), &job); err != nil {
		w.deadLetter(ctx, d, job, fmt.Sprintf("undecodable job: %v", err))
		return
	}
	if job.Email == "" || job.OrderNumber == "" {
		w.deadLetter(ctx, d, job, "job without recipient or order number")
		return
	}

	subject, body, err := RenderConfirmation(job)
	if err == nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.SendTimeout)
		err = w.sender.Send(sctx, job.Email, subject, body)
		cancel()
	}
	if err == nil {
		if err := d.Ack(); err != nil {
			zap.L().Error("notify ack failed",
				zap.String("namespace", "notify"),
				zap.String("order_number", job.OrderNumber),
				zap.Error(err))
		}
		metrics.Notifications.WithLabelValues("sent").Inc()
		zap.L().Info("order confirmation sent",
			zap.String("namespace", "notify"),
			zap.String("order_number", job.OrderNumber),
			zap.Int("attempt", d.Attempt()))
		return
	}

	// a send cut off by shutdown is not a delivery failure
	if ctx.Err() != nil {
		zap.L().Info("order confirmation interrupted by shutdown, requeued",
			zap.String("namespace", "notify"),
			zap.String("order_number", job.OrderNumber),
			zap.Error(err))
		if err := d.Nack(0); err != nil {
			zap.L().Error("notify nack failed",
				zap.String("namespace", "notify"),
				zap.Error(err))
		}
		return
	}

	if d.Attempt() < w.opts.MaxAttempts {
		metrics.Notifications.WithLabelValues("retried").Inc()
		zap.L().Warn("order confirmation failed, will retry",
			zap.String("namespace", "notify"),
			zap.String("order_number", job.OrderNumber),
			zap.Int("attempt", d.Attempt()),
			zap.Error(err))
		if err := d.Nack(w.opts.RetryDelay); err != nil {
			zap.L().Error("notify nack failed",
				zap.String("namespace", "notify"),
				zap.Error(err))
		}
		return
	}
	w.deadLetter(ctx, d, job, err.Error())
}

// deadLetter moves the raw payload to the dead letter queue, then acks the
// delivery. If the move fails the job stays on the work queue.
func (w *Worker) deadLetter(ctx context.Context, d queue.Delivery, job domain.NotificationJob, reason string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := w.client.Publish(pctx, w.opts.DeadQueue, queue.Message{ID: d.MessageID(), Body: d.Body()})
	if err != nil {
		zap.L().Error("dead letter publish failed, job kept on queue",
			zap.String("namespace", "notify"),
			zap.String("order_number", job.OrderNumber),
			zap.Error(err))
		_ = d.Nack(w.opts.RetryDelay)
		return
	}
	if err := d.Ack(); err != nil && !errors.Is(err, queue.ErrClosed) {
		zap.L().Error("notify ack failed",
			zap.String("namespace", "notify"),
			zap.Error(err))
	}

	metrics.Notifications.WithLabelValues("dead_letter").Inc()
	zap.L().Warn("order confirmation dead lettered",
		zap.String("namespace", "notify"),
		zap.String("order_number", job.OrderNumber),
		zap.Int("attempts", d.Attempt()),
		zap.String("reason", reason))

	if w.bus != nil {
		w.bus.Publish(TopicDeadLetter, DeadLetterEvent{
			Queue:     w.opts.Queue,
			MessageID: d.MessageID(),
			Job:       job,
			Payload:   d.Body(),
			Reason:    reason,
			Attempts:  d.Attempt(),
			At:        time.Now(),
		})
	}
}
