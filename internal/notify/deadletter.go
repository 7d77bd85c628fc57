package notify

import (
	"context"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/pkg/common"
	"go.uber.org/zap"
)

// TopicDeadLetter is published on the event bus for every dead lettered job
const TopicDeadLetter = "notify:dead_letter"

// DeadLetterEvent describes a job removed from the work queue
type DeadLetterEvent struct {
	Queue     string
	MessageID string
	Job       domain.NotificationJob
	Payload   []byte
	Reason    string
	Attempts  int
	At        time.Time
}

// DeadLetterStore persists dead letters
type DeadLetterStore interface {
	Create(ctx context.Context, dl *domain.DeadLetter) error
}

// SubscribeDeadLetters records every dead letter event in store
func SubscribeDeadLetters(bus EventBus.Bus, store DeadLetterStore) error {
	return bus.Subscribe(TopicDeadLetter, func(ev DeadLetterEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := store.Create(ctx, &domain.DeadLetter{
			ID:          common.UUIDint64(),
			Queue:       ev.Queue,
			MessageID:   ev.MessageID,
			OrderNumber: ev.Job.OrderNumber,
			Recipient:   ev.Job.Email,
			Payload:     string(ev.Payload),
			Reason:      ev.Reason,
			Attempts:    ev.Attempts,
			CreatedAt:   ev.At,
		})
		if err != nil {
			zap.L().Error("persist dead letter failed",
				zap.String("namespace", "notify"),
				zap.String("order_number", ev.Job.OrderNumber),
				zap.Error(err))
		}
	})
}
