package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONStore keeps the whole ledger in one JSON document.
// A single goroutine owns the document; callers queue operations to it, so
// concurrent registrations and increments cannot lose updates. Every mutation
// rewrites the full file through a temp file and rename.
type JSONStore struct {
	path string
	now  func() time.Time

	reqs chan request
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

type request struct {
	fn    func(users map[string]*User) (dirty bool, err error)
	reply chan error
}

func OpenJSON(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	users, err := readUsers(path)
	if err != nil {
		return nil, err
	}
	s := &JSONStore{
		path: path,
		now:  time.Now,
		reqs: make(chan request),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop(users)
	return s, nil
}

func (s *JSONStore) loop(users map[string]*User) {
	defer close(s.done)
	for {
		select {
		case r := <-s.reqs:
			dirty, err := r.fn(users)
			if err == nil && dirty {
				err = writeUsers(s.path, users)
			}
			r.reply <- err
		case <-s.quit:
			return
		}
	}
}

func (s *JSONStore) do(ctx context.Context, fn func(users map[string]*User) (bool, error)) error {
	r := request{fn: fn, reply: make(chan error, 1)}
	select {
	case s.reqs <- r:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *JSONStore) EnsureUser(ctx context.Context, id int64, username string) (bool, error) {
	var created bool
	err := s.do(ctx, func(users map[string]*User) (bool, error) {
		if _, ok := users[key(id)]; ok {
			return false, nil
		}
		users[key(id)] = &User{Username: username, Registered: stamp(s.now()), Downloads: 0}
		created = true
		return true, nil
	})
	return created, err
}

func (s *JSONStore) Increment(ctx context.Context, id int64) (User, error) {
	var out User
	err := s.do(ctx, func(users map[string]*User) (bool, error) {
		u, ok := users[key(id)]
		if !ok {
			u = &User{Registered: stamp(s.now())}
			users[key(id)] = u
		}
		u.Downloads++
		out = *u
		return true, nil
	})
	return out, err
}

func (s *JSONStore) Get(ctx context.Context, id int64) (User, bool, error) {
	var (
		out   User
		found bool
	)
	err := s.do(ctx, func(users map[string]*User) (bool, error) {
		if u, ok := users[key(id)]; ok {
			out, found = *u, true
		}
		return false, nil
	})
	return out, found, err
}

func (s *JSONStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.do(ctx, func(users map[string]*User) (bool, error) {
		st.Users = len(users)
		for _, u := range users {
			st.Downloads += u.Downloads
		}
		return false, nil
	})
	return st, err
}

func (s *JSONStore) BackupTo(ctx context.Context, path string) error {
	return s.do(ctx, func(users map[string]*User) (bool, error) {
		return false, writeUsers(path, users)
	})
}

func (s *JSONStore) Close() error {
	s.once.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func readUsers(path string) (map[string]*User, error) {
	users := map[string]*User{}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return users, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(b) == 0 {
		return users, nil
	}
	if err := json.Unmarshal(b, &users); err != nil {
		return nil, fmt.Errorf("invalid ledger json %s: %w", path, err)
	}
	for k, u := range users {
		if u == nil {
			users[k] = &User{}
		}
	}
	return users, nil
}

func writeUsers(path string, users map[string]*User) error {
	b, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
