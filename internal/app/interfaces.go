package app

import (
	"context"

	"github.com/ninzstore/storefront/config"
	"github.com/ninzstore/storefront/internal/catalog"
	"github.com/ninzstore/storefront/internal/order"
	"github.com/ninzstore/storefront/internal/queue"
	"github.com/ninzstore/storefront/internal/store"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
	Jobs() []JobInfo
	RunJobNow(name string) error
}

// StoreProvider provides the inventory, ledger and dead letter repositories
type StoreProvider interface {
	Store() *store.GormStore
}

// CatalogProvider provides the cached product listing
type CatalogProvider interface {
	Catalog() *catalog.Service
}

// OrderProvider provides the order pipeline
type OrderProvider interface {
	Orders() *order.Service
}

// QueueProvider provides the notification queue connection
type QueueProvider interface {
	Queue() *queue.Client
}

// AppContext combines all provider interfaces for full application context
// Services should depend on specific providers or this combined interface
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider
	StoreProvider
	CatalogProvider
	OrderProvider
	QueueProvider

	// Application lifecycle methods
	MigrateDB(track bool) error
	InitDb()
	DropAll()
	// HealthCheck reports "ok" or the failure for database, cache and queue
	HealthCheck(ctx context.Context) map[string]string
}
