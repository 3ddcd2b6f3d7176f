package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions yt-dlp uses for unfinished downloads.
var skippedExtensions = []string{".part", ".ytdl", ".tmp", ".temp"}

// Locate finds the file produced for base in dir. The extension may differ from
// the one requested because merging and remuxing rewrite it, so any base.* file
// counts. Unfinished fragments are ignored; a merged file (base.<ext>) wins over
// per-format leftovers (base.f137.mp4).
func Locate(dir, base string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, m := range matches {
		if skipped(m) {
			continue
		}
		if fi, err := os.Stat(m); err != nil || !fi.Mode().IsRegular() {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %s", ErrArtifactMissing, base)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return dots(candidates[i], base) < dots(candidates[j], base)
	})
	return candidates[0], nil
}

// Cleanup removes every file belonging to base, finished or not.
func Cleanup(dir, base string) error {
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return err
	}
	var firstErr error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ext returns the lower-case extension of path without the dot.
func Ext(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func skipped(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range skippedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

func dots(path, base string) int {
	return strings.Count(strings.TrimPrefix(filepath.Base(path), base), ".")
}
