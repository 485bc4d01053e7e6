package db

import (
	"fmt"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"checkpoint-service/internal/config"
)

// Open connects to the configured database and applies migrations.
func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	log = log.With().Str("component", "db").Logger()

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "sqlite3":
		dialector = gormsqlite.Open(sqliteDSN(cfg.DSN))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(log, 200*time.Millisecond),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	// SQLite has one writer; a single connection queues transactions in the
	// pool instead of failing lock upgrades with SQLITE_BUSY.
	if cfg.MaxOpenConns <= 0 && db.Dialector.Name() == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}

	log.Info().Str("driver", db.Dialector.Name()).Msg("database ready")
	return db, nil
}

// sqliteDSN makes concurrent writers wait for the lock instead of failing
// immediately with SQLITE_BUSY.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}
