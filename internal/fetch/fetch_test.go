package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	ext   string
	info  Info
	err   error
	delay time.Duration

	active  atomic.Int32
	maxSeen atomic.Int32
	gotTmpl string
	mu      sync.Mutex
}

func (f *fakeEngine) Download(ctx context.Context, rawURL, tmpl string) (Info, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	f.gotTmpl = tmpl
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Info{}, f.err
	}
	if f.ext != "" {
		path := strings.Replace(tmpl, "%(ext)s", f.ext, 1)
		if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
			return Info{}, err
		}
	}
	return f.info, nil
}

func TestFetch_Success(t *testing.T) {
	dir := t.TempDir()
	eng := &fakeEngine{ext: "mp4", info: Info{Title: "  Clip  ", Filename: "x.webm"}}
	a := New(Options{WorkDir: dir, MaxFileSize: 1 << 30}, eng, zerolog.Nop())

	res, err := a.Fetch(context.Background(), "https://example.com/v", "media_1_2_ab")
	require.NoError(t, err)
	assert.Equal(t, "Clip", res.Title)
	assert.Equal(t, "webm", res.Ext)
	assert.Equal(t, filepath.Join(dir, "media_1_2_ab.%(ext)s"), eng.gotTmpl)

	path, err := Locate(dir, "media_1_2_ab")
	require.NoError(t, err)
	assert.Equal(t, "mp4", Ext(path))
}

func TestFetch_DefaultTitle(t *testing.T) {
	a := New(Options{WorkDir: t.TempDir()}, &fakeEngine{ext: "jpg"}, zerolog.Nop())

	res, err := a.Fetch(context.Background(), "https://example.com/p", "b")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, res.Title)
	assert.Empty(t, res.Ext)
}

func TestFetch_EngineError(t *testing.T) {
	boom := errors.New("file is larger than max-filesize")
	a := New(Options{WorkDir: t.TempDir()}, &fakeEngine{err: boom}, zerolog.Nop())

	_, err := a.Fetch(context.Background(), "https://example.com/big", "b")
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "https://example.com/big", fe.URL)
	assert.ErrorIs(t, err, boom)
}

func TestFetch_BoundedConcurrency(t *testing.T) {
	dir := t.TempDir()
	eng := &fakeEngine{ext: "mp4", delay: 30 * time.Millisecond}
	a := New(Options{WorkDir: dir, MaxConcurrent: 2}, eng, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.Fetch(context.Background(), "https://example.com", ArtifactBase(int64(i), time.Now()))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, eng.maxSeen.Load(), int32(2))
}

func TestFetch_CanceledWhileWaitingForSlot(t *testing.T) {
	eng := &fakeEngine{ext: "mp4", delay: 200 * time.Millisecond}
	a := New(Options{WorkDir: t.TempDir(), MaxConcurrent: 1}, eng, zerolog.Nop())

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = a.Fetch(context.Background(), "https://example.com", "first")
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Fetch(ctx, "https://example.com", "second")
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-first
}

func TestArtifactBase(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := ArtifactBase(42, now)
	b := ArtifactBase(42, now)

	assert.True(t, strings.HasPrefix(a, "media_42_1700000000_"))
	assert.Len(t, a, len("media_42_1700000000_")+8)
	assert.NotEqual(t, a, b)
}
