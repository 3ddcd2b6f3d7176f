// Package janitor removes download artifacts that outlived their request,
// e.g. after a crash or a killed yt-dlp process.
package janitor

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Prefix of every file the fetch step writes.
const ArtifactPrefix = "media_"

type Janitor struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New sweeps dir every interval. A non-positive interval defaults to maxAge/2,
// at least one minute.
func New(dir string, maxAge, interval time.Duration, log zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = max(maxAge/2, time.Minute)
	}
	return &Janitor{
		dir:      dir,
		maxAge:   maxAge,
		interval: interval,
		log:      log.With().Str("component", "janitor").Logger(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
}

func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

func (j *Janitor) loop() {
	t := time.NewTicker(j.interval)
	defer t.Stop()

	j.Sweep()
	for {
		select {
		case <-t.C:
			j.Sweep()
		case <-j.stopCh:
			return
		}
	}
}

// Sweep removes stale artifacts and returns how many files were deleted.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.log.Warn().Err(err).Str("dir", j.dir).Msg("read work dir")
		}
		return 0
	}

	cutoff := j.now().Add(-j.maxAge)
	var removed int
	var freed uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), ArtifactPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			j.log.Warn().Err(err).Str("path", path).Msg("remove stale artifact")
			continue
		}
		removed++
		freed += uint64(max(info.Size(), 0))
	}
	if removed > 0 {
		j.log.Info().Int("files", removed).Str("freed", humanize.IBytes(freed)).Msg("stale artifacts removed")
	}
	return removed
}
