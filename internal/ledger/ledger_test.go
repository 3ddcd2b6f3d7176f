package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 30, 45, 0, time.Local)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	js, err := OpenJSON(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
	js.now = func() time.Time { return fixedNow }

	sq, err := OpenSQLite(filepath.Join(dir, "users.db"))
	require.NoError(t, err)
	sq.now = func() time.Time { return fixedNow }

	t.Cleanup(func() {
		_ = js.Close()
		_ = sq.Close()
	})
	return map[string]Store{"json": js, "sqlite": sq}
}

func TestEnsureUser_Idempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			created, err := s.EnsureUser(ctx, 42, "alice")
			require.NoError(t, err)
			assert.True(t, created)

			created, err = s.EnsureUser(ctx, 42, "renamed")
			require.NoError(t, err)
			assert.False(t, created)

			u, ok, err := s.Get(ctx, 42)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, User{Username: "alice", Registered: "2026-03-01 12:30:45", Downloads: 0}, u)

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Users)
		})
	}
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.EnsureUser(ctx, 7, "bob")
			require.NoError(t, err)

			u, err := s.Increment(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, 1, u.Downloads)

			u, err = s.Increment(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, 2, u.Downloads)
			assert.Equal(t, "bob", u.Username)
		})
	}
}

func TestIncrement_MissingUserIsRecreated(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			u, err := s.Increment(ctx, 99)
			require.NoError(t, err)
			assert.Equal(t, 1, u.Downloads)

			_, ok, err := s.Get(ctx, 99)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			const users, perUser = 8, 10
			var wg sync.WaitGroup
			for id := int64(1); id <= users; id++ {
				wg.Add(1)
				go func(id int64) {
					defer wg.Done()
					_, _ = s.EnsureUser(ctx, id, "")
					for i := 0; i < perUser; i++ {
						_, err := s.Increment(ctx, id)
						assert.NoError(t, err)
					}
				}(id)
			}
			wg.Wait()

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, users, st.Users)
			assert.Equal(t, users*perUser, st.Downloads)
		})
	}
}

func TestJSONStore_PersistsDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.json")

	s, err := OpenJSON(path)
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	_, err = s.EnsureUser(ctx, 123, "carol")
	require.NoError(t, err)
	_, err = s.Increment(ctx, 123)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]User
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, User{Username: "carol", Registered: "2026-03-01 12:30:45", Downloads: 1}, doc["123"])

	// reopen sees the same state
	s, err = OpenJSON(path)
	require.NoError(t, err)
	defer s.Close()
	u, ok, err := s.Get(ctx, 123)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, u.Downloads)

	leftovers, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestJSONStore_ReadsNullUsername(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	doc := `{"5": {"username": null, "registered": "2025-01-02 03:04:05", "downloads": 3}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := OpenJSON(path)
	require.NoError(t, err)
	defer s.Close()

	u, ok, err := s.Get(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "", u.Username)
	assert.Equal(t, 3, u.Downloads)
}

func TestJSONStore_CorruptFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenJSON(path)
	require.Error(t, err)
}

func TestJSONStore_ClosedStore(t *testing.T) {
	s, err := OpenJSON(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.EnsureUser(context.Background(), 1, "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBackupTo(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.EnsureUser(ctx, 1, "dave")
			require.NoError(t, err)

			dst := filepath.Join(t.TempDir(), "backup")
			require.NoError(t, s.BackupTo(ctx, dst))
			info, err := os.Stat(dst)
			require.NoError(t, err)
			assert.Positive(t, info.Size())
		})
	}
}

func TestOpen_SQLiteImportsJSONOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	doc := `{"10": {"username": "erin", "registered": "2025-05-05 05:05:05", "downloads": 4}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte(doc), 0o600))

	s, err := Open(ctx, "sqlite", dir)
	require.NoError(t, err)
	u, ok, err := s.Get(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, User{Username: "erin", Registered: "2025-05-05 05:05:05", Downloads: 4}, u)
	_, err = s.Increment(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// second open must not re-import and reset the counter
	s, err = Open(ctx, "sqlite", dir)
	require.NoError(t, err)
	defer s.Close()
	u, _, err = s.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, u.Downloads)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "redis", t.TempDir())
	require.Error(t, err)
}
