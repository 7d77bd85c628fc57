package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/internal/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id int64, user, number string, created time.Time) *domain.Order {
	return &domain.Order{
		ID:       id,
		UserID:   user,
		Username: "alice",
		Email:    "alice@example.com",
		Product: domain.LineItem{
			ID:       1,
			Name:     "Wireless Headphones",
			Price:    decimal.RequireFromString("99.99"),
			Quantity: 1,
		},
		DeliveryAddress: domain.DeliveryAddress{Street: "1 Main St", City: "Springfield", ZipCode: "12345", Phone: "555-0100"},
		TotalAmount:     decimal.RequireFromString("99.99"),
		PaymentMethod:   domain.PaymentCashOnDelivery,
		Status:          domain.OrderConfirmed,
		OrderNumber:     number,
		CreatedAt:       created,
	}
}

func TestDecrementStock(t *testing.T) {
	db := storetest.Open(t)
	storetest.SeedProduct(t, db, 1, "99.99", 5)
	repo := NewGormProductRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.DecrementStock(ctx, 1, 2))
	assert.Equal(t, 3, storetest.Stock(t, db, 1))

	err := repo.DecrementStock(ctx, 1, 4)
	assert.ErrorIs(t, err, ErrStockExhausted)
	assert.Equal(t, 3, storetest.Stock(t, db, 1))

	require.NoError(t, repo.DecrementStock(ctx, 1, 3))
	assert.Equal(t, 0, storetest.Stock(t, db, 1))

	assert.ErrorIs(t, repo.DecrementStock(ctx, 42, 1), ErrProductNotFound)
	assert.Error(t, repo.DecrementStock(ctx, 1, 0))
}

func TestStockCheckConstraint(t *testing.T) {
	db := storetest.Open(t)
	storetest.SeedProduct(t, db, 1, "99.99", 2)

	err := db.Model(&domain.Product{}).Where("id = ?", 1).Update("stock", -1).Error
	assert.Error(t, err)
	assert.Equal(t, 2, storetest.Stock(t, db, 1))

	p := &domain.Product{ID: 2, Name: "Broken", Price: decimal.NewFromInt(1), Stock: -3}
	assert.Error(t, NewGormProductRepository(db).Create(context.Background(), p))
}

func TestProductGetAndList(t *testing.T) {
	db := storetest.Open(t)
	for i := int64(1); i <= 4; i++ {
		storetest.SeedProduct(t, db, i, "10.00", 1)
	}
	repo := NewGormProductRepository(db)
	ctx := context.Background()

	p, err := repo.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(10)))

	_, err = repo.GetByID(ctx, 99)
	assert.ErrorIs(t, err, ErrProductNotFound)

	list, err := repo.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, int64(1), list[0].ID)

	ok, err := repo.ExistsByName(ctx, "Product 3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOrderCreateDuplicateNumber(t *testing.T) {
	db := storetest.Open(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newOrder(1, "u1", "ORD1", time.Now())))
	err := repo.Create(ctx, newOrder(2, "u1", "ORD1", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateOrderNumber)
	assert.Equal(t, int64(1), storetest.CountOrders(t, db))
}

func TestInTxRollsBackBothWrites(t *testing.T) {
	db := storetest.Open(t)
	storetest.SeedProduct(t, db, 1, "99.99", 5)
	s := NewGormStore(db)
	ctx := context.Background()

	require.NoError(t, s.Orders.Create(ctx, newOrder(1, "u1", "ORD1", time.Now())))

	err := s.InTx(ctx, func(products ProductRepository, orders OrderRepository) error {
		if err := products.DecrementStock(ctx, 1, 2); err != nil {
			return err
		}
		return orders.Create(ctx, newOrder(2, "u1", "ORD1", time.Now()))
	})
	assert.ErrorIs(t, err, ErrDuplicateOrderNumber)
	assert.Equal(t, 5, storetest.Stock(t, db, 1))
	assert.Equal(t, int64(1), storetest.CountOrders(t, db))

	err = s.InTx(ctx, func(products ProductRepository, orders OrderRepository) error {
		if err := products.DecrementStock(ctx, 1, 2); err != nil {
			return err
		}
		return orders.Create(ctx, newOrder(3, "u1", "ORD3", time.Now()))
	})
	require.NoError(t, err)
	assert.Equal(t, 3, storetest.Stock(t, db, 1))
	assert.Equal(t, int64(2), storetest.CountOrders(t, db))
}

func TestOrderListingAndStatus(t *testing.T) {
	db := storetest.Open(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Create(ctx, newOrder(1, "u1", "ORD1", base)))
	require.NoError(t, repo.Create(ctx, newOrder(2, "u2", "ORD2", base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newOrder(3, "u1", "ORD3", base.Add(2*time.Minute))))

	mine, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "ORD3", mine[0].OrderNumber)
	assert.Equal(t, "ORD1", mine[1].OrderNumber)

	page, total, err := repo.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, "ORD3", page[0].OrderNumber)

	updated, err := repo.UpdateStatus(ctx, 2, domain.OrderShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, updated.Status)
	assert.True(t, updated.TotalAmount.Equal(decimal.RequireFromString("99.99")))

	_, err = repo.UpdateStatus(ctx, 2, "Lost")
	assert.Error(t, err)
	_, err = repo.UpdateStatus(ctx, 99, domain.OrderDelivered)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderStats(t *testing.T) {
	db := storetest.Open(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()

	empty, err := repo.Stats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.TotalOrders)
	assert.True(t, empty.TotalRevenue.IsZero())

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, repo.Create(ctx, newOrder(i, "u1", "ORD"+decimal.NewFromInt(i).String(), time.Now())))
	}
	stats, err := repo.Stats(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalOrders)
	assert.Equal(t, "299.97", stats.TotalRevenue.StringFixed(2))
	assert.Len(t, stats.RecentOrders, 2)
}

func TestDeadLetterRetention(t *testing.T) {
	db := storetest.Open(t)
	repo := NewGormDeadLetterRepository(db)
	ctx := context.Background()

	old := &domain.DeadLetter{ID: 1, Queue: "email_queue", Reason: "smtp down", CreatedAt: time.Now().AddDate(0, 0, -40)}
	recent := &domain.DeadLetter{ID: 2, Queue: "email_queue", Reason: "smtp down", CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, recent))

	n, err := repo.DeleteOlderThan(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, total, err := repo.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(2), rows[0].ID)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.False(t, isDuplicateKey(nil))
	assert.True(t, isDuplicateKey(errors.New(`ERROR: duplicate key value violates unique constraint "idx_orders_order_number"`)))
	assert.False(t, isDuplicateKey(errors.New("connection refused")))
}
