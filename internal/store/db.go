// Package store owns all persistence. It is the only package allowed
// to issue SQL; every other component sees typed capability methods.
// One SQLite file per logical store, all opened in WAL mode.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// OpenDB opens (creating if needed) a SQLite database in WAL mode.
// Path ":memory:" yields an in-process database for tests.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// WAL writers and readers coexist; a single writer connection
	// avoids SQLITE_BUSY churn under modernc's driver.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// NewID returns a time-ordered UUID string for row ids.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// nowMS is the stored timestamp representation (unix milliseconds).
func nowMS() int64 {
	return time.Now().UnixMilli()
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
