package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	sql *sql.DB
	now func() time.Time
}

func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection: every mutation is serialized by the driver.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(0)

	s := &SQLiteStore{sql: sqldb, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.sql.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			registered TEXT NOT NULL,
			downloads INTEGER NOT NULL DEFAULT 0 CHECK (downloads >= 0)
		);`,
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
	}
	for _, st := range stmts {
		if _, err := s.sql.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// SeedFromJSON imports an existing users.json once, so switching backends keeps history.
func (s *SQLiteStore) SeedFromJSON(ctx context.Context, jsonPath string) error {
	var done string
	err := s.sql.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='json_imported'`).Scan(&done)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	users, err := readUsers(jsonPath)
	if err != nil {
		return err
	}
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for k, u := range users {
		var id int64
		if _, err := fmt.Sscan(k, &id); err != nil {
			continue
		}
		registered := u.Registered
		if registered == "" {
			registered = stamp(s.now())
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO users(user_id,username,registered,downloads) VALUES(?,?,?,?)`,
			id, u.Username, registered, max(u.Downloads, 0)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key,value) VALUES('json_imported',?)`, stamp(s.now())); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) EnsureUser(ctx context.Context, id int64, username string) (bool, error) {
	res, err := s.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(user_id,username,registered,downloads) VALUES(?,?,?,0)`,
		id, username, stamp(s.now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) Increment(ctx context.Context, id int64) (User, error) {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO users(user_id,username,registered,downloads) VALUES(?,'',?,1)
		 ON CONFLICT(user_id) DO UPDATE SET downloads=downloads+1`,
		id, stamp(s.now()))
	if err != nil {
		return User{}, err
	}
	u, _, err := s.Get(ctx, id)
	return u, err
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (User, bool, error) {
	var u User
	err := s.sql.QueryRowContext(ctx, `SELECT username,registered,downloads FROM users WHERE user_id=?`, id).
		Scan(&u.Username, &u.Registered, &u.Downloads)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.sql.QueryRowContext(ctx, `SELECT COUNT(1), COALESCE(SUM(downloads),0) FROM users`).Scan(&st.Users, &st.Downloads)
	return st, err
}

// BackupTo creates a consistent SQLite snapshot at dstPath using VACUUM INTO.
// This works even when WAL mode is enabled.
func (s *SQLiteStore) BackupTo(ctx context.Context, dstPath string) error {
	escaped := strings.ReplaceAll(dstPath, "'", "''")
	_, err := s.sql.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s';", escaped))
	return err
}
