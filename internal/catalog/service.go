package catalog

import (
	"context"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProductLister reads the authoritative product listing
type ProductLister interface {
	List(ctx context.Context, limit int) ([]domain.Product, error)
}

// Service serves the product listing through the cache. It is only used for
// display, stock decisions always read the inventory store.
type Service struct {
	cache    Cache
	products ProductLister
	ttl      time.Duration
	limit    int
	group    singleflight.Group
	// generation is bumped by every Invalidate. A load only fills the cache
	// when no invalidation happened while it read the store.
	generation atomic.Uint64
}

func NewService(cache Cache, products ProductLister, ttl time.Duration, limit int) *Service {
	return &Service{cache: cache, products: products, ttl: ttl, limit: limit}
}

// ListProducts returns the cached listing, loading it from the store on a miss.
// Cache read errors count as misses. Concurrent misses share one load.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	data, hit, err := s.cache.Get(ctx, ProductsKey)
	if err != nil {
		metrics.CatalogCache.WithLabelValues("error").Inc()
		zap.L().Warn("catalog cache read failed",
			zap.String("namespace", "catalog"),
			zap.Error(err))
	}
	if hit {
		var products []domain.Product
		if err := json.Unmarshal(data, &products); err == nil {
			metrics.CatalogCache.WithLabelValues("hit").Inc()
			return products, nil
		}
		zap.L().Warn("catalog cache entry undecodable, reloading",
			zap.String("namespace", "catalog"))
	}
	metrics.CatalogCache.WithLabelValues("miss").Inc()

	v, err, _ := s.group.Do(ProductsKey, func() (interface{}, error) {
		// shared by every waiter, one caller going away must not fail the rest
		lctx := context.WithoutCancel(ctx)
		gen := s.generation.Load()
		products, err := s.products.List(lctx, s.limit)
		if err != nil {
			return nil, err
		}
		if s.generation.Load() != gen {
			zap.L().Debug("catalog invalidated during load, not caching",
				zap.String("namespace", "catalog"))
			return products, nil
		}
		if payload, err := json.Marshal(products); err == nil {
			if err := s.cache.Set(lctx, ProductsKey, payload, s.ttl); err != nil {
				zap.L().Warn("catalog cache write failed",
					zap.String("namespace", "catalog"),
					zap.Error(err))
			}
		}
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Product), nil
}

// Invalidate drops the cached listing. A load already in flight is detached
// so later readers start a fresh one.
func (s *Service) Invalidate(ctx context.Context) error {
	s.generation.Add(1)
	s.group.Forget(ProductsKey)
	return s.cache.Delete(ctx, ProductsKey)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}
