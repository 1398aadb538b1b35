package db

import (
	"fmt"
	"time"

	"github.com/kasuganosora/escaperoom/server/config"
	dbmysql "github.com/kasuganosora/escaperoom/server/db/mysql"
	dbpostgres "github.com/kasuganosora/escaperoom/server/db/postgres"
	dbsqlite "github.com/kasuganosora/escaperoom/server/db/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ModeMemory   = "memory"
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

type pool struct {
	maxOpen, maxIdle int
	maxLife          time.Duration
}

// SQLite allows a single writer, and a shared-cache memory database lives
// only as long as one connection stays open.
var singleConn = pool{maxOpen: 1, maxIdle: 1}

type Option func(*options)

type options struct {
	log *zap.Logger
}

// WithLogger routes query errors and slow statements to log.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig, opts ...Option) (*gorm.DB, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	dialector, limits, err := dialect(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: newQueryLogger(o.log, cfg.SlowQuery)})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", cfg.Mode, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(limits.maxOpen)
	sqlDB.SetMaxIdleConns(limits.maxIdle)
	sqlDB.SetConnMaxLifetime(limits.maxLife)
	return db, nil
}

func dialect(cfg config.DatabaseConfig) (gorm.Dialector, pool, error) {
	shared := pool{maxOpen: cfg.MaxOpen, maxIdle: cfg.MaxIdle, maxLife: cfg.MaxLife}
	switch cfg.Mode {
	case ModeMemory:
		return dbsqlite.Memory(""), singleConn, nil
	case ModeSQLite:
		d, err := dbsqlite.File(cfg.SQLitePath)
		return d, singleConn, err
	case ModeMySQL:
		d, err := dbmysql.Dialector(cfg.MySQLDSN)
		return d, shared, err
	case ModePostgres:
		d, err := dbpostgres.Dialector(cfg.PostgresDSN)
		return d, shared, err
	default:
		return nil, pool{}, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
