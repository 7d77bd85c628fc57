package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ninzstore/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrStockExhausted       = errors.New("insufficient stock")
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
)

// ProductRepository is the inventory store
type ProductRepository interface {
	// GetByID reads the authoritative product record
	GetByID(ctx context.Context, id int64) (*domain.Product, error)

	// List returns at most limit products ordered by id
	List(ctx context.Context, limit int) ([]domain.Product, error)

	// DecrementStock subtracts qty only if at least qty units remain.
	// Returns ErrStockExhausted when the condition does not hold.
	DecrementStock(ctx context.Context, id int64, qty int) error

	// Create inserts a catalog product (seeding)
	Create(ctx context.Context, p *domain.Product) error

	// ExistsByName reports whether a product with this name is present
	ExistsByName(ctx context.Context, name string) (bool, error)
}

// OrderRepository is the order ledger
type OrderRepository interface {
	// Create inserts a new order, a taken order number yields ErrDuplicateOrderNumber
	Create(ctx context.Context, order *domain.Order) error

	GetByID(ctx context.Context, id int64) (*domain.Order, error)

	// ListByUser returns the user's orders, newest first
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)

	// List returns a page of all orders, newest first
	List(ctx context.Context, page, pageSize int) ([]domain.Order, int64, error)

	// UpdateStatus changes the order status, the only mutable order field
	UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error)

	// Stats summarizes the ledger
	Stats(ctx context.Context, recent int) (*OrderStats, error)
}

// Transactor runs fn with repositories bound to a single database transaction.
// Any error returned by fn rolls back every write made through them.
type Transactor interface {
	InTx(ctx context.Context, fn func(products ProductRepository, orders OrderRepository) error) error
}

type OrderStats struct {
	TotalOrders  int64           `json:"totalOrders"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	RecentOrders []domain.Order  `json:"recentOrders"`
}

// GormStore groups the gorm repositories that share one database handle
type GormStore struct {
	db          *gorm.DB
	Products    *GormProductRepository
	Orders      *GormOrderRepository
	DeadLetters *GormDeadLetterRepository
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:          db,
		Products:    NewGormProductRepository(db),
		Orders:      NewGormOrderRepository(db),
		DeadLetters: NewGormDeadLetterRepository(db),
	}
}

func (s *GormStore) InTx(ctx context.Context, fn func(products ProductRepository, orders OrderRepository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormProductRepository(tx), NewGormOrderRepository(tx))
	})
}

// GormProductRepository is the GORM implementation of ProductRepository
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormProductRepository) List(ctx context.Context, limit int) ([]domain.Product, error) {
	var products []domain.Product
	query := r.db.WithContext(ctx).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&products).Error
	return products, err
}

func (r *GormProductRepository) DecrementStock(ctx context.Context, id int64, qty int) error {
	if qty < 1 {
		return fmt.Errorf("decrement quantity must be positive, got %d", qty)
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ? AND stock >= ?", id, qty).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Product{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrProductNotFound
	}
	return ErrStockExhausted
}

func (r *GormProductRepository) Create(ctx context.Context, p *domain.Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *GormProductRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Product{}).Where("name = ?", name).Count(&count).Error
	return count > 0, err
}

// GormOrderRepository is the GORM implementation of OrderRepository
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Create(order).Error
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
	}
	return err
}

func (r *GormOrderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	var o domain.Order
	err := r.db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *GormOrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&orders).Error
	return orders, err
}

func (r *GormOrderRepository) List(ctx context.Context, page, pageSize int) ([]domain.Order, int64, error) {
	var orders []domain.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Order{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&orders).Error
	return orders, total, err
}

func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid order status %q", status)
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrOrderNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *GormOrderRepository) Stats(ctx context.Context, recent int) (*OrderStats, error) {
	stats := &OrderStats{}
	db := r.db.WithContext(ctx)

	if err := db.Model(&domain.Order{}).Count(&stats.TotalOrders).Error; err != nil {
		return nil, err
	}

	var revenue decimal.NullDecimal
	if err := db.Model(&domain.Order{}).
		Select("COALESCE(SUM(total_amount), 0)").
		Row().Scan(&revenue); err != nil {
		return nil, err
	}
	stats.TotalRevenue = revenue.Decimal

	if err := db.Order("created_at DESC").Order("id DESC").Limit(recent).Find(&stats.RecentOrders).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// GormDeadLetterRepository persists notification jobs that exhausted their attempts
type GormDeadLetterRepository struct {
	db *gorm.DB
}

func NewGormDeadLetterRepository(db *gorm.DB) *GormDeadLetterRepository {
	return &GormDeadLetterRepository{db: db}
}

func (r *GormDeadLetterRepository) Create(ctx context.Context, dl *domain.DeadLetter) error {
	return r.db.WithContext(ctx).Create(dl).Error
}

func (r *GormDeadLetterRepository) List(ctx context.Context, page, pageSize int) ([]domain.DeadLetter, int64, error) {
	var rows []domain.DeadLetter
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.DeadLetter{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error
	return rows, total, err
}

func (r *GormDeadLetterRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&domain.DeadLetter{})
	return res.RowsAffected, res.Error
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// drivers without error translation
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
