package notify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/internal/queue"
	"github.com/ninzstore/storefront/internal/store"
	"github.com/ninzstore/storefront/internal/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const workQueue = "email_queue"

var leakOpts = []goleak.Option{
	goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*Pool).purgeStaleWorkers"),
	goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*Pool).ticktock"),
	goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
}

type fakeSender struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	sent      []string
}

func (s *fakeSender) Send(_ context.Context, to, subject, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFirst < 0 || s.calls <= s.failFirst {
		return errors.New("smtp: 421 service not available")
	}
	s.sent = append(s.sent, to+"|"+subject)
	return nil
}

func (s *fakeSender) stats() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]string(nil), s.sent...)
}

type countingDelivery struct {
	queue.Delivery
	acks, nacks *atomic.Int32
}

func (d countingDelivery) Ack() error {
	defer d.acks.Add(1)
	return d.Delivery.Ack()
}

func (d countingDelivery) Nack(delay time.Duration) error {
	defer d.nacks.Add(1)
	return d.Delivery.Nack(delay)
}

// countingClient wraps deliveries so the test can count settlements
type countingClient struct {
	*queue.Client
	acks, nacks atomic.Int32
}

func (c *countingClient) Consume(ctx context.Context, name string, prefetch int) (<-chan queue.Delivery, error) {
	in, err := c.Client.Consume(ctx, name, prefetch)
	if err != nil {
		return nil, err
	}
	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		for d := range in {
			out <- countingDelivery{Delivery: d, acks: &c.acks, nacks: &c.nacks}
		}
	}()
	return out, nil
}

type harness struct {
	mu     sync.Mutex
	client *countingClient
	broker *queue.BoltBroker
	cancel context.CancelFunc
	done   chan error
}

func startWorker(t *testing.T, sender Sender, bus EventBus.Bus, maxAttempts int) *harness {
	t.Helper()
	return startWorkerAt(t, filepath.Join(t.TempDir(), "q.db"), sender, bus, WorkerOptions{MaxAttempts: maxAttempts})
}

func startWorkerAt(t *testing.T, path string, sender Sender, bus EventBus.Bus, opts WorkerOptions) *harness {
	t.Helper()
	h := &harness{done: make(chan error, 1)}
	dial := func(ctx context.Context) (queue.Broker, error) {
		b, err := queue.OpenBolt(path, queue.BoltOptions{PollInterval: 10 * time.Millisecond})
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		h.broker = b
		h.mu.Unlock()
		return b, nil
	}
	qc := queue.NewClient(dial, queue.ClientOptions{Queues: []string{workQueue, workQueue + ".dead"}})
	// the client outlives the worker so in-flight jobs can settle on stop
	qc.Start(context.Background())
	require.Eventually(t, qc.Connected, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	h.client = &countingClient{Client: qc}
	h.cancel = cancel
	opts.Queue = workQueue
	opts.Concurrency = 2
	opts.RetryDelay = 10 * time.Millisecond
	opts.ResumeDelay = 10 * time.Millisecond
	w := NewWorker(h.client, sender, bus, opts)
	go func() { h.done <- w.Run(ctx) }()
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	h.client.Close()
}

func (h *harness) publish(t *testing.T, body []byte) {
	t.Helper()
	require.NoError(t, h.client.Publish(context.Background(), workQueue, queue.Message{ID: "msg-1", Body: body}))
}

func (h *harness) queueLen(t *testing.T, name string) int {
	t.Helper()
	h.mu.Lock()
	b := h.broker
	h.mu.Unlock()
	n, err := b.Len(name)
	require.NoError(t, err)
	return n
}

func jobBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(domain.NotificationJob{
		Email:       "alice@example.com",
		Username:    "alice",
		OrderNumber: "ORD1700000000000",
		ProductName: "Wireless Headphones",
		TotalAmount: decimal.RequireFromString("199.98"),
	})
	require.NoError(t, err)
	return body
}

func TestWorkerRetriesThenAcksOnce(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	sender := &fakeSender{failFirst: 2}
	h := startWorker(t, sender, nil, 5)
	h.publish(t, jobBody(t))

	require.Eventually(t, func() bool { return h.client.acks.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	calls, sent := sender.stats()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"alice@example.com|Order Confirmation - ORD1700000000000"}, sent)
	assert.Equal(t, int32(1), h.client.acks.Load())
	assert.Equal(t, int32(2), h.client.nacks.Load())
	assert.Equal(t, 0, h.queueLen(t, workQueue))
	assert.Equal(t, 0, h.queueLen(t, workQueue+".dead"))
	h.stop(t)
}

func TestWorkerDeadLettersAfterBudget(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	db := storetest.Open(t)
	repo := store.NewGormDeadLetterRepository(db)
	bus := EventBus.New()
	require.NoError(t, SubscribeDeadLetters(bus, repo))

	sender := &fakeSender{failFirst: -1}
	h := startWorker(t, sender, bus, 3)
	h.publish(t, jobBody(t))

	require.Eventually(t, func() bool { return h.client.acks.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.queueLen(t, workQueue+".dead"))
	assert.Equal(t, 0, h.queueLen(t, workQueue))
	h.stop(t)

	calls, _ := sender.stats()
	assert.Equal(t, 3, calls)
	assert.Equal(t, int32(1), h.client.acks.Load())
	assert.Equal(t, int32(2), h.client.nacks.Load())

	rows, total, err := repo.List(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, "ORD1700000000000", rows[0].OrderNumber)
	assert.Equal(t, "alice@example.com", rows[0].Recipient)
	assert.Equal(t, 3, rows[0].Attempts)
	assert.Contains(t, rows[0].Reason, "service not available")
}

func TestWorkerDeadLettersPoisonMessage(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	sender := &fakeSender{}
	h := startWorker(t, sender, nil, 5)
	h.publish(t, []byte("{not json"))

	require.Eventually(t, func() bool { return h.client.acks.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.queueLen(t, workQueue+".dead"))
	assert.Equal(t, 0, h.queueLen(t, workQueue))
	h.stop(t)

	calls, _ := sender.stats()
	assert.Equal(t, 0, calls)
}

// stallingSender holds every send until its context ends, unless deliver is set
type stallingSender struct {
	started chan struct{}
	deliver atomic.Bool
	sent    atomic.Int32
}

func (s *stallingSender) Send(ctx context.Context, _, _, _ string) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	if s.deliver.Load() {
		s.sent.Add(1)
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestWorkerShutdownMidSendRequeuesJob(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	db := storetest.Open(t)
	repo := store.NewGormDeadLetterRepository(db)
	bus := EventBus.New()
	require.NoError(t, SubscribeDeadLetters(bus, repo))

	path := filepath.Join(t.TempDir(), "q.db")
	sender := &stallingSender{started: make(chan struct{}, 1)}
	opts := WorkerOptions{MaxAttempts: 3, SendTimeout: 100 * time.Millisecond}

	// stop the worker while the send is in flight more times than the budget
	for i := 0; i < 4; i++ {
		h := startWorkerAt(t, path, sender, bus, opts)
		if i == 0 {
			h.publish(t, jobBody(t))
		}
		select {
		case <-sender.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("send %d never started", i+1)
		}
		h.stop(t)
		assert.Equal(t, int32(0), h.client.acks.Load())
	}

	sender.deliver.Store(true)
	h := startWorkerAt(t, path, sender, bus, opts)
	require.Eventually(t, func() bool { return h.client.acks.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.queueLen(t, workQueue))
	assert.Equal(t, 0, h.queueLen(t, workQueue+".dead"))
	h.stop(t)

	assert.Equal(t, int32(1), sender.sent.Load())
	_, total, err := repo.List(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestRenderConfirmation(t *testing.T) {
	subject, body, err := RenderConfirmation(domain.NotificationJob{
		Username:    "<bob>",
		OrderNumber: "ORD42",
		ProductName: "Smart Watch",
		TotalAmount: decimal.RequireFromString("199.9"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Order Confirmation - ORD42", subject)
	assert.Contains(t, body, "<strong>Order Number:</strong> ORD42")
	assert.Contains(t, body, "$199.90")
	assert.Contains(t, body, "Cash on Delivery")
	assert.True(t, strings.Contains(body, "&lt;bob&gt;"))
}
