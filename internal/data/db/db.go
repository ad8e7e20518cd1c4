package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	jobsDomain "github.com/yungbote/medialab-backend/internal/domain/jobs"
	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

const (
	ModeSQLite   = "sqlite"
	ModePostgres = "postgres"

	// The catalog is an index, not a system of record; an in-memory sqlite
	// database is the default and a DSN or postgres mode opts into
	// persistence.
	DefaultSQLiteDSN = "file::memory:?cache=shared"
)

type Config struct {
	Mode string
	DSN  string
}

func Open(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeSQLite
	}

	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	var (
		gdb *gorm.DB
		err error
	)
	switch mode {
	case ModeSQLite:
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
		gdb, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	case ModePostgres:
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			return nil, fmt.Errorf("postgres mode requires a DSN")
		}
		gdb, err = gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unknown db mode %q", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if mode == ModeSQLite {
		// sqlite allows a single writer; cap connections so concurrent
		// catalog updates queue instead of returning SQLITE_BUSY.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("access sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("Database initialized", "mode", mode)
	return gdb, nil
}

func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&media.Asset{},
		&jobsDomain.JobRun{},
	)
}
