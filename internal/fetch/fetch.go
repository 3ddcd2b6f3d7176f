// Package fetch resolves a URL to a media file on local disk using yt-dlp
// (via github.com/lrstanley/go-ytdlp). Downloads run on the caller's goroutine
// and are bounded by a semaphore so a burst of links cannot start an unbounded
// number of yt-dlp processes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultTitle is used as caption when the engine reports no title.
const DefaultTitle = "Медиа"

var ErrArtifactMissing = errors.New("no file produced by download")

// Error wraps every failure of a fetch. Root causes are not told apart to users.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

type Options struct {
	WorkDir       string
	MaxFileSize   int64
	CookiesFile   string
	Retries       int
	SocketTimeout time.Duration
	MaxConcurrent int64
}

func (o Options) withDefaults() Options {
	if o.Retries <= 0 {
		o.Retries = 5
	}
	if o.SocketTimeout <= 0 {
		o.SocketTimeout = 15 * time.Second
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 1
	}
	return o
}

// Info is what the engine reports about a finished download.
type Info struct {
	Title    string
	Filename string
}

// Engine downloads rawURL, writing the file named by outputTemplate.
type Engine interface {
	Download(ctx context.Context, rawURL, outputTemplate string) (Info, error)
}

type Result struct {
	Title string
	// Ext is the engine's idea of the extension; post-processing may change it,
	// so the file itself is found with Locate.
	Ext string
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL, base string) (Result, error)
}

type Adapter struct {
	opts   Options
	engine Engine
	sem    *semaphore.Weighted
	log    zerolog.Logger
}

func New(opts Options, engine Engine, log zerolog.Logger) *Adapter {
	opts = opts.withDefaults()
	return &Adapter{
		opts:   opts,
		engine: engine,
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		log:    log.With().Str("component", "fetch").Logger(),
	}
}

func (a *Adapter) WorkDir() string { return a.opts.WorkDir }

// Fetch downloads rawURL into WorkDir as base.<ext>.
func (a *Adapter) Fetch(ctx context.Context, rawURL, base string) (Result, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return Result{}, &Error{URL: rawURL, Err: err}
	}
	defer a.sem.Release(1)

	start := time.Now()
	tmpl := filepath.Join(a.opts.WorkDir, base+".%(ext)s")
	info, err := a.engine.Download(ctx, rawURL, tmpl)
	if err != nil {
		a.log.Warn().Err(err).Str("url", rawURL).Dur("took", time.Since(start)).Msg("download failed")
		return Result{}, &Error{URL: rawURL, Err: err}
	}

	res := Result{Title: strings.TrimSpace(info.Title)}
	if res.Title == "" {
		res.Title = DefaultTitle
	}
	if info.Filename != "" {
		res.Ext = strings.TrimPrefix(filepath.Ext(info.Filename), ".")
	}
	a.log.Info().Str("url", rawURL).Str("ext", res.Ext).Dur("took", time.Since(start)).
		Str("limit", humanize.IBytes(uint64(max(a.opts.MaxFileSize, 0)))).Msg("download finished")
	return res, nil
}

// ArtifactBase returns a file name prefix unique to one request.
func ArtifactBase(userID int64, now time.Time) string {
	return fmt.Sprintf("media_%d_%d_%s", userID, now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
