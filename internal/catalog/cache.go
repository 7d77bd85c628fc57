package catalog

import (
	"context"
	"time"
)

// ProductsKey holds the serialized product listing
const ProductsKey = "products_list"

// Cache is a best-effort byte cache. A miss is reported through the bool
// result, never as an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
