package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// RemoteConfig carries the connection parameters for the MySQL-wire remote
// store.
type RemoteConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// SSLMode mirrors the config surface: "disable" turns TLS off, anything
	// else requests it.
	SSLMode string
}

// OpenRemote connects to a MySQL-wire-compatible server and applies the full
// schema. The connection is verified with a ping before the store is returned.
func OpenRemote(ctx context.Context, cfg RemoteConfig) (Store, error) {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	mc.DBName = cfg.Database
	// DATETIME columns must scan into time.Time, not []byte.
	mc.ParseTime = true
	mc.Loc = time.UTC
	if cfg.SSLMode != "" && cfg.SSLMode != "disable" {
		mc.TLSConfig = "preferred"
	}

	db, err := openSQL("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("store: open mysql %s: %w", mc.Addr, err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping mysql %s: %w", mc.Addr, err)
	}

	st, err := newSQLStore(ctx, db, mysqlDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

func openSQL(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}
