package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/internal/queue"
	"github.com/ninzstore/storefront/internal/store"
	"github.com/ninzstore/storefront/pkg/common"
	"github.com/ninzstore/storefront/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type PlaceOrderRequest struct {
	UserID    string
	UserEmail string
	Username  string
	ProductID int64
	Quantity  int
	Address   domain.DeliveryAddress
}

type Receipt struct {
	OrderID     int64
	OrderNumber string
	TotalAmount decimal.Decimal
}

// CatalogInvalidator drops the cached product listing
type CatalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

// JobPublisher hands notification jobs to the queue
type JobPublisher interface {
	Publish(ctx context.Context, queue string, msg queue.Message) error
}

type Options struct {
	// Queue receives the confirmation jobs
	Queue string
	// PublishTimeout bounds the queue hand-off
	PublishTimeout time.Duration
	// WriteTimeout bounds the stock and ledger transaction
	WriteTimeout time.Duration
	// ConflictRetries is how many fresh order numbers are tried after a collision
	ConflictRetries int
}

// Service places orders: stock decrement and ledger insert in one
// transaction, then best-effort cache invalidation and notification.
type Service struct {
	products  store.ProductRepository
	tx        store.Transactor
	catalog   CatalogInvalidator
	publisher JobPublisher
	numbers   NumberGenerator
	opts      Options
}

func NewService(products store.ProductRepository, tx store.Transactor, catalog CatalogInvalidator,
	publisher JobPublisher, numbers NumberGenerator, opts Options) *Service {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	return &Service{
		products:  products,
		tx:        tx,
		catalog:   catalog,
		publisher: publisher,
		numbers:   numbers,
		opts:      opts,
	}
}

// PlaceOrder reserves stock, records the order and returns its receipt. The
// caller never waits for the confirmation email.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Receipt, error) {
	if err := validateRequest(req); err != nil {
		metrics.OrdersFailed.WithLabelValues("invalid").Inc()
		return nil, err
	}

	product, err := s.products.GetByID(ctx, req.ProductID)
	if errors.Is(err, store.ErrProductNotFound) {
		metrics.OrdersFailed.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.OrdersFailed.WithLabelValues("server").Inc()
		return nil, fmt.Errorf("%w: read product %d: %v", ErrServer, req.ProductID, err)
	}
	if req.Quantity > product.Stock {
		metrics.OrdersFailed.WithLabelValues("insufficient_stock").Inc()
		return nil, ErrInsufficientStock
	}

	order := &domain.Order{
		UserID:   req.UserID,
		Username: req.Username,
		Email:    req.UserEmail,
		Product: domain.LineItem{
			ID:       product.ID,
			Name:     product.Name,
			Price:    product.Price,
			Quantity: req.Quantity,
		},
		DeliveryAddress: trimAddress(req.Address),
		TotalAmount:     product.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
		PaymentMethod:   domain.PaymentCashOnDelivery,
		Status:          domain.OrderConfirmed,
	}

	// once writes begin a caller disconnect must not abandon them
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	if err := s.commit(wctx, order); err != nil {
		metrics.OrdersFailed.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	metrics.OrdersPlaced.Inc()
	zap.L().Info("order placed",
		zap.String("namespace", "order"),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("product_id", product.ID),
		zap.Int("quantity", req.Quantity),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	s.invalidateCatalog(wctx, order)
	s.enqueueConfirmation(wctx, order)

	return &Receipt{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalAmount: order.TotalAmount,
	}, nil
}

// commit runs the conditional decrement and ledger insert in one transaction,
// drawing a new order number after each collision
func (s *Service) commit(ctx context.Context, order *domain.Order) error {
	for attempt := 0; ; attempt++ {
		order.ID = common.UUIDint64()
		order.OrderNumber = s.numbers.Next()
		order.CreatedAt = time.Now()
		order.UpdatedAt = order.CreatedAt

		err := s.tx.InTx(ctx, func(products store.ProductRepository, orders store.OrderRepository) error {
			if err := products.DecrementStock(ctx, order.Product.ID, order.Product.Quantity); err != nil {
				return err
			}
			return orders.Create(ctx, order)
		})

		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrStockExhausted):
			return ErrInsufficientStock
		case errors.Is(err, store.ErrProductNotFound):
			return ErrNotFound
		case errors.Is(err, store.ErrDuplicateOrderNumber):
			if attempt < s.opts.ConflictRetries {
				zap.L().Warn("order number collision, retrying",
					zap.String("namespace", "order"),
					zap.String("order_number", order.OrderNumber),
					zap.Int("attempt", attempt+1))
				continue
			}
			return fmt.Errorf("%w: %s", ErrConflict, order.OrderNumber)
		default:
			return fmt.Errorf("%w: %v", ErrServer, err)
		}
	}
}

func (s *Service) invalidateCatalog(ctx context.Context, order *domain.Order) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Invalidate(ctx); err != nil {
		zap.L().Warn("catalog invalidation failed",
			zap.String("namespace", "order"),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
	}
}

func (s *Service) enqueueConfirmation(ctx context.Context, order *domain.Order) {
	if s.publisher == nil {
		return
	}
	body, err := json.Marshal(domain.NewNotificationJob(order))
	if err != nil {
		zap.L().Error("encode notification job failed",
			zap.String("namespace", "order"),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
		return
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	err = s.publisher.Publish(pctx, s.opts.Queue, queue.Message{
		ID:          uuid.NewString(),
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		zap.L().Warn("notification enqueue failed",
			zap.String("namespace", "order"),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
	}
}

func validateRequest(req PlaceOrderRequest) error {
	if req.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidRequest)
	}
	a := req.Address
	if common.AnyEmpty(a.Street, a.City, a.ZipCode, a.Phone) {
		return fmt.Errorf("%w: delivery address requires street, city, zip code and phone", ErrInvalidRequest)
	}
	return nil
}

func trimAddress(a domain.DeliveryAddress) domain.DeliveryAddress {
	return domain.DeliveryAddress{
		Street:  strings.TrimSpace(a.Street),
		City:    strings.TrimSpace(a.City),
		ZipCode: strings.TrimSpace(a.ZipCode),
		Phone:   strings.TrimSpace(a.Phone),
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "server"
	}
}
