package app

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/ninzstore/storefront/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func getDatabase(cfg config.DBConfig, datadir string) *gorm.DB {
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
	if cfg.Debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dbfile := cfg.Name
		if dbfile != ":memory:" && !path.IsAbs(dbfile) {
			if err := os.MkdirAll(datadir, 0o755); err != nil {
				panic(err)
			}
			dbfile = path.Join(datadir, dbfile)
		}
		dialector = sqlite.Open(dbfile + "?_busy_timeout=5000&_foreign_keys=on")
	case "postgres", "":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.Port, cfg.User, cfg.Passwd, cfg.Name)
		dialector = postgres.Open(dsn)
	default:
		panic(fmt.Errorf("unsupported database type %q", cfg.Type))
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		panic(fmt.Errorf("open %s database: %w", cfg.Type, err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	if cfg.Type == "sqlite" {
		// one writer at a time, sqlite locks the whole file
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxConn)
		sqlDB.SetMaxIdleConns(cfg.IdleConn)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db
}
