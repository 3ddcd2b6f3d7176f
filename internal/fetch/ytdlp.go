package fetch

import (
	"context"
	"os"
	"os/exec"
	"strconv"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"
)

// Prefer an mp4 that Telegram can stream; fall back to whatever is best.
const formatPreference = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// YtdlpEngine runs the yt-dlp binary with a fixed option bundle.
type YtdlpEngine struct {
	opts Options
}

func NewYtdlpEngine(opts Options) *YtdlpEngine {
	return &YtdlpEngine{opts: opts.withDefaults()}
}

func (e *YtdlpEngine) command(outputTemplate string) *ytdlp.Command {
	retries := strconv.Itoa(e.opts.Retries)
	dl := ytdlp.New().
		Format(formatPreference).
		MergeOutputFormat("mp4").
		Output(outputTemplate).
		NoPlaylist().
		NoMtime().
		Retries(retries).
		FragmentRetries(retries).
		SocketTimeout(e.opts.SocketTimeout.Seconds()).
		ConcurrentFragments(8).
		HTTPChunkSize("10M").
		NoProgress().
		NoWarnings().
		PrintJSON()

	if e.opts.MaxFileSize > 0 {
		dl = dl.MaxFileSize(strconv.FormatInt(e.opts.MaxFileSize, 10))
	}
	if e.opts.CookiesFile != "" {
		if _, err := os.Stat(e.opts.CookiesFile); err == nil {
			dl = dl.Cookies(e.opts.CookiesFile)
		}
	}
	return dl
}

func (e *YtdlpEngine) Download(ctx context.Context, rawURL, outputTemplate string) (Info, error) {
	res, err := e.command(outputTemplate).Run(ctx, rawURL)
	if err != nil {
		return Info{}, err
	}

	var info Info
	extracted, err := res.GetExtractedInfo()
	if err != nil || len(extracted) == 0 {
		// The file on disk is still authoritative; see Locate.
		return info, nil
	}
	if extracted[0].Title != nil {
		info.Title = *extracted[0].Title
	}
	if extracted[0].Filename != nil {
		info.Filename = *extracted[0].Filename
	}
	return info, nil
}

// EnsureBinary makes sure a yt-dlp executable is available, downloading one
// into the user cache when install is true.
func EnsureBinary(ctx context.Context, install bool, log zerolog.Logger) error {
	if path, err := exec.LookPath("yt-dlp"); err == nil {
		log.Info().Str("path", path).Msg("using yt-dlp from PATH")
		return nil
	}
	if !install {
		log.Warn().Msg("yt-dlp not found in PATH; downloads will fail until it is installed")
		return nil
	}
	resolved, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return err
	}
	log.Info().Str("path", resolved.Executable).Str("version", resolved.Version).Msg("installed yt-dlp")
	return nil
}
