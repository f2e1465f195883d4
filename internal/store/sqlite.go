package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultSQLiteBusyTimeoutMs lets a reminder run and a webhook write to the
// same file without failing on "database is locked".
const DefaultSQLiteBusyTimeoutMs = 5000

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the single-file backend used for small deployments.
type SQLiteStore struct {
	*sqlBackend
}

var _ Store = (*SQLiteStore)(nil)

// sqliteFilePath strips the file: scheme and query of a go-sqlite3 DSN.
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// sqliteDSN adds the busy timeout unless the caller already chose one.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") || strings.Contains(dsn, "_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d", dsn, sep, DefaultSQLiteBusyTimeoutMs)
}

// NewSQLiteStore opens (creating if needed) the database file named by the DSN
// and applies the schema.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	path := sqliteFilePath(cfg.DSN)
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openDB("sqlite3", sqliteDSN(cfg.DSN), sqliteMigrations, func(db *sql.DB) {
		// one connection serializes writers, so transactions never hit SQLITE_BUSY
		db.SetMaxOpenConns(1)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("SQLiteStore opened", "path", path)
	return &SQLiteStore{sqlBackend: newSQLBackend(db, "SQLiteStore", func(q string) string { return q })}, nil
}
