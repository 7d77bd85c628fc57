package app

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"github.com/asaskevich/EventBus"
	"github.com/ninzstore/storefront/config"
	"github.com/ninzstore/storefront/internal/catalog"
	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/internal/notify"
	"github.com/ninzstore/storefront/internal/order"
	"github.com/ninzstore/storefront/internal/queue"
	"github.com/ninzstore/storefront/internal/store"
	"github.com/ninzstore/storefront/pkg/common"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron
	jobs      []job
	store     *store.GormStore
	rdb       *redis.Client
	cache     catalog.Cache
	catalog   *catalog.Service
	queue     *queue.Client
	orders    *order.Service
	bus       EventBus.Bus
	worker    *notify.Worker
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ StoreProvider     = (*Application)(nil)
	_ CatalogProvider   = (*Application)(nil)
	_ OrderProvider     = (*Application)(nil)
	_ QueueProvider     = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

func (a *Application) Store() *store.GormStore {
	return a.store
}

func (a *Application) Catalog() *catalog.Service {
	return a.catalog
}

func (a *Application) Orders() *order.Service {
	return a.orders
}

func (a *Application) Queue() *queue.Client {
	return a.queue
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	initLogger(cfg)
	common.SetNodeID(cfg.Order.NodeID)

	a.gormDB = getDatabase(cfg.Database, cfg.GetDataDir())
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}
	a.store = store.NewGormStore(a.gormDB)

	a.cache = a.newCache(cfg)
	a.catalog = catalog.NewService(a.cache, a.store.Products, cfg.CacheTTL(), cfg.Cache.ListLimit)

	a.queue = queue.NewClient(newDialer(cfg), queue.ClientOptions{
		Queues:            []string{cfg.Queue.Name, cfg.DeadLetterQueue()},
		StartupDelay:      time.Duration(cfg.Queue.StartupDelay) * time.Second,
		ReconnectMaxDelay: time.Duration(cfg.Queue.ReconnectMaxDelay) * time.Second,
	})

	numbers, err := order.NewNumberGenerator(cfg.Order.NumberScheme, cfg.Order.NodeID)
	if err != nil {
		panic(err)
	}
	a.orders = order.NewService(a.store.Products, a.store, a.catalog, a.queue, numbers, order.Options{
		Queue:           cfg.Queue.Name,
		PublishTimeout:  cfg.PublishTimeout(),
		WriteTimeout:    time.Duration(cfg.Order.WriteTimeout) * time.Second,
		ConflictRetries: cfg.Order.ConflictRetries,
	})

	a.bus = EventBus.New()
	if err := notify.SubscribeDeadLetters(a.bus, a.store.DeadLetters); err != nil {
		zap.S().Errorf("subscribe dead letters: %v", err)
	}
	if cfg.Notify.Enabled {
		a.worker = notify.NewWorker(a.queue, notify.NewSMTPSender(cfg.Mail), a.bus, notify.WorkerOptions{
			Queue:       cfg.Queue.Name,
			DeadQueue:   cfg.DeadLetterQueue(),
			Concurrency: cfg.Notify.Concurrency,
			MaxAttempts: cfg.Notify.MaxAttempts,
			RetryDelay:  time.Duration(cfg.Notify.RetryDelay) * time.Second,
			SendTimeout: time.Duration(cfg.Notify.SendTimeout) * time.Second,
		})
	}

	a.checkProducts()

	a.initJob()
}

func initLogger(cfg *config.AppConfig) {
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)
}

func (a *Application) newCache(cfg *config.AppConfig) catalog.Cache {
	switch cfg.Cache.Driver {
	case "memory":
		return catalog.NewMemoryCache(64, cfg.CacheTTL())
	case "redis", "":
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return catalog.NewRedisCache(a.rdb)
	default:
		panic(fmt.Errorf("unsupported cache driver %q", cfg.Cache.Driver))
	}
}

func newDialer(cfg *config.AppConfig) queue.Dialer {
	switch cfg.Queue.Driver {
	case "bolt":
		return queue.BoltDialer(cfg.BoltPath(), queue.BoltOptions{})
	case "amqp", "":
		return queue.AMQPDialer(cfg.Queue.URL)
	default:
		panic(fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver))
	}
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	return db.Migrator().AutoMigrate(domain.Tables...)
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
		return
	}
	a.checkProducts()
}

// StartQueue starts connecting to the broker in the background
func (a *Application) StartQueue(ctx context.Context) {
	a.queue.Start(ctx)
}

// RunNotifier drains the notification queue until ctx ends. It returns at
// once when notifications are disabled.
func (a *Application) RunNotifier(ctx context.Context) error {
	if a.worker == nil {
		zap.L().Info("notify worker disabled", zap.String("namespace", "notify"))
		return nil
	}
	return a.worker.Run(ctx)
}

func (a *Application) HealthCheck(ctx context.Context) map[string]string {
	status := func(err error) string {
		if err != nil {
			return err.Error()
		}
		return "ok"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := map[string]string{}
	sqlDB, err := a.gormDB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	result["database"] = status(err)
	result["cache"] = status(a.catalog.Ping(ctx))
	result["queue"] = status(a.queue.HealthCheck(ctx))
	return result
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.gormDB != nil {
		if sqlDB, err := a.gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = zap.L().Sync()
}
