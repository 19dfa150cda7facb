// Package directory stores the contact directory and runs read-only
// queries against it.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Open opens and pings the directory database.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported directory driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping directory database: %w", err)
	}

	logger.Info("directory database connected", zap.String("driver", driver))
	return db, nil
}

// OpenReadOnly is Open with a session that refuses writes: SQLite
// connections run with query_only and PostgreSQL sessions default to
// read-only transactions.
func OpenReadOnly(ctx context.Context, driver, dsn string, logger *zap.Logger) (*sql.DB, error) {
	return Open(ctx, driver, ReadOnlyDSN(driver, dsn), logger)
}

// ReadOnlyDSN adds the driver's read-only setting to dsn.
func ReadOnlyDSN(driver, dsn string) string {
	switch driver {
	case DriverSQLite:
		return withParam(dsn, "_query_only=true")
	case DriverPostgres:
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			return withParam(dsn, "default_transaction_read_only=on")
		}
		return strings.TrimSpace(dsn + " default_transaction_read_only=on")
	}
	return dsn
}

func withParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
