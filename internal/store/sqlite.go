package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpenEmbedded opens (creating if needed) the single-file SQLite store at
// path. Parent directories are created. The returned store has the full
// schema applied.
func OpenEmbedded(ctx context.Context, path string) (Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir %q: %w", dir, err)
		}
	}

	// WAL keeps readers unblocked during writes; busy_timeout covers the
	// remaining write-write contention between the gateway and REST surface.
	dsn := fmt.Sprintf("file:%s?%s", url.PathEscape(path), url.Values{
		"_pragma": []string{
			"foreign_keys(1)",
			"busy_timeout(5000)",
			"journal_mode(WAL)",
		},
	}.Encode())

	db, err := openSQL("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)

	st, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}
