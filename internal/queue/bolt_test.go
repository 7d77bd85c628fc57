package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueue = "email_queue"

func openTestBolt(t *testing.T, path string, lease time.Duration) *BoltBroker {
	t.Helper()
	b, err := OpenBolt(path, BoltOptions{PollInterval: 10 * time.Millisecond, LeaseTimeout: lease})
	require.NoError(t, err)
	require.NoError(t, b.Declare(context.Background(), testQueue))
	return b
}

func receive(t *testing.T, ch <-chan Delivery, within time.Duration) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(within):
		t.Fatalf("no delivery within %s", within)
		return nil
	}
}

func assertNothing(t *testing.T, ch <-chan Delivery, within time.Duration) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery %s attempt %d", d.MessageID(), d.Attempt())
	case <-time.After(within):
	}
}

func TestBoltPublishConsumeAck(t *testing.T) {
	b := openTestBolt(t, filepath.Join(t.TempDir(), "q.db"), time.Minute)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, testQueue, Message{ID: "m1", Body: []byte(`{"n":1}`)}))
	require.NoError(t, b.Publish(ctx, testQueue, Message{ID: "m2", Body: []byte(`{"n":2}`)}))

	ch, err := b.Consume(ctx, testQueue, 2)
	require.NoError(t, err)

	d1 := receive(t, ch, time.Second)
	assert.Equal(t, "m1", d1.MessageID())
	assert.Equal(t, `{"n":1}`, string(d1.Body()))
	assert.Equal(t, 1, d1.Attempt())
	d2 := receive(t, ch, time.Second)
	assert.Equal(t, "m2", d2.MessageID())

	require.NoError(t, d1.Ack())
	require.NoError(t, d2.Ack())
	n, err := b.Len(testQueue)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBoltNackRedelivers(t *testing.T) {
	b := openTestBolt(t, filepath.Join(t.TempDir(), "q.db"), time.Minute)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, testQueue, Message{ID: "m1", Body: []byte("x")}))
	ch, err := b.Consume(ctx, testQueue, 1)
	require.NoError(t, err)

	d := receive(t, ch, time.Second)
	require.NoError(t, d.Nack(0))
	d = receive(t, ch, time.Second)
	assert.Equal(t, 2, d.Attempt())

	require.NoError(t, d.Nack(300*time.Millisecond))
	assertNothing(t, ch, 100*time.Millisecond)
	d = receive(t, ch, 2*time.Second)
	assert.Equal(t, 3, d.Attempt())
	require.NoError(t, d.Ack())

	// a settled delivery ignores further calls
	assert.NoError(t, d.Nack(0))
	assertNothing(t, ch, 50*time.Millisecond)
}

func TestBoltPrefetchBound(t *testing.T) {
	b := openTestBolt(t, filepath.Join(t.TempDir(), "q.db"), time.Minute)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(ctx, testQueue, Message{ID: id, Body: []byte(id)}))
	}
	ch, err := b.Consume(ctx, testQueue, 1)
	require.NoError(t, err)

	d := receive(t, ch, time.Second)
	assert.Equal(t, "a", d.MessageID())
	assertNothing(t, ch, 100*time.Millisecond)

	require.NoError(t, d.Ack())
	d = receive(t, ch, time.Second)
	assert.Equal(t, "b", d.MessageID())
	require.NoError(t, d.Ack())
}

func TestBoltExpiredLeaseSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.db")
	b := openTestBolt(t, path, 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, b.Publish(ctx, testQueue, Message{ID: "m1", Body: []byte("x")}))
	ch, err := b.Consume(ctx, testQueue, 1)
	require.NoError(t, err)
	d := receive(t, ch, time.Second)
	assert.Equal(t, 1, d.Attempt())

	// crash without ack
	cancel()
	require.NoError(t, b.Close())

	b = openTestBolt(t, path, 100*time.Millisecond)
	defer b.Close()
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	ch, err = b.Consume(ctx, testQueue, 1)
	require.NoError(t, err)
	d = receive(t, ch, 2*time.Second)
	assert.Equal(t, "m1", d.MessageID())
	assert.Equal(t, 2, d.Attempt())
	require.NoError(t, d.Ack())
}

func TestBoltUndeclaredQueue(t *testing.T) {
	b := openTestBolt(t, filepath.Join(t.TempDir(), "q.db"), time.Minute)
	ctx := context.Background()

	assert.ErrorIs(t, b.Publish(ctx, "missing", Message{ID: "m"}), ErrNoSuchQueue)
	_, err := b.Consume(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNoSuchQueue)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, b.Publish(ctx, testQueue, Message{ID: "m"}), ErrClosed)
}

func TestDeliveryAttemptHeader(t *testing.T) {
	assert.Equal(t, 1, deliveryAttempt(nil))
	assert.Equal(t, 1, deliveryAttempt(map[string]interface{}{}))
	assert.Equal(t, 3, deliveryAttempt(map[string]interface{}{"x-delivery-count": int64(2)}))
}
