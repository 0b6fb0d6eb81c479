package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Options configures how a database is opened.
type Options struct {
	ReadOnly bool
	Logger   *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// openDB opens the SQLite file at path. A writer gets WAL mode and a file that
// fails an integrity check is deleted and recreated; recreated reports that.
func openDB(path string, opts Options) (db *sql.DB, recreated bool, err error) {
	if opts.ReadOnly {
		db, err = sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
		if err != nil {
			return nil, false, fmt.Errorf("failed to open database: %w", err)
		}
		if err := checkDB(db); err != nil {
			_ = db.Close()
			return nil, false, err
		}
		return db, false, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, false, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	db, err = openWritable(path)
	if err != nil {
		opts.logger().Warn("database unusable, recreating", zap.String("path", path), zap.Error(err))
		if rmErr := removeDB(path); rmErr != nil {
			return nil, false, fmt.Errorf("failed to remove corrupt database: %w", rmErr)
		}
		db, err = openWritable(path)
		if err != nil {
			return nil, false, err
		}
		return db, true, nil
	}
	return db, fresh, nil
}

func openWritable(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := checkDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set synchronous: %w", err)
	}
	return db, nil
}

func checkDB(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func removeDB(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// readMeta loads a key/value meta table; a missing table yields an empty map.
func readMeta(db *sql.DB, table string) (map[string]string, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT key, value FROM ` + table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// DBFiles lists the files that make up the database at path.
func DBFiles(path string) []string {
	return []string{path, path + "-wal", path + "-shm"}
}
