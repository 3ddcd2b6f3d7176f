// Package ledger persists per-user usage records: who started the bot, when,
// and how many files were delivered to them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// TimeLayout is the format of User.Registered.
const TimeLayout = "2006-01-02 15:04:05"

var ErrClosed = errors.New("ledger: store is closed")

type User struct {
	Username   string `json:"username"`
	Registered string `json:"registered"`
	Downloads  int    `json:"downloads"`
}

type Stats struct {
	Users     int
	Downloads int
}

// Store is implemented by the JSON and SQLite backends.
type Store interface {
	// EnsureUser inserts a record with zero downloads if id is unknown.
	EnsureUser(ctx context.Context, id int64, username string) (created bool, err error)
	// Increment adds one delivered download. A missing record is recreated.
	Increment(ctx context.Context, id int64) (User, error)
	Get(ctx context.Context, id int64) (User, bool, error)
	Stats(ctx context.Context) (Stats, error)
	// BackupTo writes a consistent snapshot of the store to path.
	BackupTo(ctx context.Context, path string) error
	Close() error
}

// Open returns the backend selected by name, storing its files under dataDir.
func Open(ctx context.Context, backend, dataDir string) (Store, error) {
	jsonPath := filepath.Join(dataDir, "users.json")
	switch backend {
	case "", "json":
		return OpenJSON(jsonPath)
	case "sqlite":
		s, err := OpenSQLite(filepath.Join(dataDir, "users.db"))
		if err != nil {
			return nil, err
		}
		if err := s.SeedFromJSON(ctx, jsonPath); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported ledger backend: %s", backend)
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

func stamp(t time.Time) string { return t.Format(TimeLayout) }
