package app

import (
	"context"
	"time"

	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/pkg/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const imageBase = "https://ninzstore-products-images.s3.us-east-1.amazonaws.com/products/"

var defaultProducts = []domain.Product{
	{
		Name:        "Wireless Headphones",
		Description: "High-quality wireless headphones with noise cancellation",
		Price:       decimal.RequireFromString("99.99"),
		Image:       imageBase + "headphones.jpg",
		Stock:       15,
	},
	{
		Name:        "Smart Watch",
		Description: "Fitness tracking smart watch with heart rate monitor",
		Price:       decimal.RequireFromString("199.99"),
		Image:       imageBase + "smartwatch.jpg",
		Stock:       20,
	},
	{
		Name:        "Laptop Stand",
		Description: "Adjustable aluminum laptop stand for better ergonomics",
		Price:       decimal.RequireFromString("49.99"),
		Image:       imageBase + "laptop-stand.jpg",
		Stock:       25,
	},
}

// checkProducts seeds the demo catalog when missing
func (a *Application) checkProducts() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created := 0
	for _, p := range defaultProducts {
		exists, err := a.store.Products.ExistsByName(ctx, p.Name)
		if err != nil {
			zap.L().Error("failed to query catalog product", zap.String("name", p.Name), zap.Error(err))
			return
		}
		if exists {
			continue
		}
		product := p
		product.ID = common.UUIDint64()
		if err := a.store.Products.Create(ctx, &product); err != nil {
			zap.L().Error("failed to create catalog product", zap.String("name", p.Name), zap.Error(err))
			continue
		}
		created++
	}
	if created == 0 {
		return
	}

	zap.L().Info("initialized default catalog", zap.Int("products", created))
	if err := a.catalog.Invalidate(ctx); err != nil {
		zap.L().Warn("catalog invalidation after seeding failed",
			zap.String("namespace", "catalog"),
			zap.Error(err))
	}
}
