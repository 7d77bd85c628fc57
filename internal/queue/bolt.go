package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type boltRecord struct {
	ID        string    `json:"id"`
	Body      []byte    `json:"body"`
	Attempt   int       `json:"attempt"`
	VisibleAt time.Time `json:"visible_at"`
}

// BoltOptions tunes the embedded broker
type BoltOptions struct {
	// PollInterval is how often an idle consumer rescans its queue
	PollInterval time.Duration
	// LeaseTimeout is how long a delivery stays invisible before it is
	// handed out again when neither acked nor nacked
	LeaseTimeout time.Duration
}

// BoltBroker is a durable single node queue on a bbolt file. Each queue is a
// bucket of records keyed by a big endian sequence, so a cursor scan visits
// them in publish order.
type BoltBroker struct {
	db        *bbolt.DB
	opts      BoltOptions
	now       func() time.Time
	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

var _ Broker = (*BoltBroker)(nil)

func OpenBolt(path string, opts BoltOptions) (*BoltBroker, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 5 * time.Minute
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue file %s: %w", path, err)
	}
	return &BoltBroker{
		db:     db,
		opts:   opts,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}, nil
}

// BoltDialer opens the queue file on every dial
func BoltDialer(path string, opts BoltOptions) Dialer {
	return func(context.Context) (Broker, error) {
		return OpenBolt(path, opts)
	}
}

func (b *BoltBroker) Declare(_ context.Context, name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func (b *BoltBroker) Publish(ctx context.Context, queue string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.isClosed() {
		return ErrClosed
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(queue))
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrNoSuchQueue, queue)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(boltRecord{ID: msg.ID, Body: msg.Body, VisibleAt: b.now()})
		if err != nil {
			return err
		}
		return bucket.Put(itob(seq), data)
	})
	if err == nil {
		b.poke()
	}
	return err
}

func (b *BoltBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	if prefetch < 1 {
		prefetch = 1
	}
	exists := false
	_ = b.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket([]byte(queue)) != nil
		return nil
	})
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchQueue, queue)
	}

	out := make(chan Delivery)
	slots := make(chan struct{}, prefetch)
	go func() {
		defer close(out)
		ticker := time.NewTicker(b.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			case slots <- struct{}{}:
			}

			for {
				if ctx.Err() != nil {
					return
				}
				d, err := b.lease(queue)
				if err != nil {
					if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
						return
					}
					zap.L().Error("queue lease failed",
						zap.String("namespace", "queue"),
						zap.String("queue", queue),
						zap.Error(err))
				}
				if d != nil {
					d.release = func() { <-slots }
					select {
					case out <- d:
					case <-ctx.Done():
						b.unlease(queue, d)
						return
					case <-b.closed:
						return
					}
					break
				}
				select {
				case <-ctx.Done():
					return
				case <-b.closed:
					return
				case <-ticker.C:
				case <-b.wake:
				}
			}
		}
	}()
	return out, nil
}

// lease hands out the oldest visible record and hides it for the lease timeout
func (b *BoltBroker) lease(queue string) (*boltDelivery, error) {
	var d *boltDelivery
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(queue))
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrNoSuchQueue, queue)
		}
		now := b.now()
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				zap.L().Error("dropping corrupt queue record",
					zap.String("namespace", "queue"),
					zap.String("queue", queue),
					zap.Error(err))
				if err := c.Delete(); err != nil {
					return err
				}
				continue
			}
			if rec.VisibleAt.After(now) {
				continue
			}
			rec.Attempt++
			rec.VisibleAt = now.Add(b.opts.LeaseTimeout)
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			key := append([]byte(nil), k...)
			if err := bucket.Put(key, data); err != nil {
				return err
			}
			d = &boltDelivery{broker: b, queue: queue, key: key, rec: rec}
			return nil
		}
		return nil
	})
	return d, err
}

func (b *BoltBroker) ack(queue string, key []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(queue))
		if bucket == nil {
			return nil
		}
		return bucket.Delete(key)
	})
}

func (b *BoltBroker) nack(queue string, key []byte, delay time.Duration) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(queue))
		if bucket == nil {
			return nil
		}
		v := bucket.Get(key)
		if v == nil {
			return nil
		}
		var rec boltRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		rec.VisibleAt = b.now().Add(delay)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(key, data)
	})
	if err == nil && delay <= 0 {
		b.poke()
	}
	return err
}

// unlease puts back a record that was leased but never handed to a consumer
func (b *BoltBroker) unlease(queue string, d *boltDelivery) {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(queue))
		if bucket == nil {
			return nil
		}
		rec := d.rec
		rec.Attempt--
		rec.VisibleAt = b.now()
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(d.key, data)
	})
	if err != nil && !errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		zap.L().Warn("queue unlease failed",
			zap.String("namespace", "queue"),
			zap.String("queue", queue),
			zap.Error(err))
	}
}

// Len returns the number of records on a queue, leased ones included
func (b *BoltBroker) Len(queue string) (int, error) {
	n := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(queue))
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrNoSuchQueue, queue)
		}
		n = bucket.Stats().KeyN
		return nil
	})
	return n, err
}

func (b *BoltBroker) Ping(context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	return nil
}

func (b *BoltBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.db.Close()
	})
	return err
}

func (b *BoltBroker) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

func (b *BoltBroker) poke() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

type boltDelivery struct {
	broker  *BoltBroker
	queue   string
	key     []byte
	rec     boltRecord
	once    sync.Once
	release func()
}

func (d *boltDelivery) MessageID() string { return d.rec.ID }
func (d *boltDelivery) Body() []byte      { return d.rec.Body }
func (d *boltDelivery) Attempt() int      { return d.rec.Attempt }

func (d *boltDelivery) Ack() error {
	var err error
	d.once.Do(func() {
		err = d.broker.ack(d.queue, d.key)
		d.done()
	})
	return err
}

func (d *boltDelivery) Nack(delay time.Duration) error {
	var err error
	d.once.Do(func() {
		err = d.broker.nack(d.queue, d.key, delay)
		d.done()
	})
	return err
}

func (d *boltDelivery) done() {
	if d.release != nil {
		d.release()
	}
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
