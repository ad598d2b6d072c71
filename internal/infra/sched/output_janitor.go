package sched

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shopee-video-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// OutputJanitor deletes downloaded videos and partial files that outlived
// their delivery. A crash between download and send leaves them behind.
type OutputJanitor struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	log      *zerolog.Logger
}

func NewOutputJanitor(dir string, maxAge, interval time.Duration, logger *zerolog.Logger) *OutputJanitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	l := logger.With().Str("component", "OutputJanitor").Logger()
	return &OutputJanitor{dir: dir, maxAge: maxAge, interval: interval, now: time.Now, log: &l}
}

func (j *OutputJanitor) Run(ctx context.Context) error {
	return runEvery(ctx, j.log, j.interval, time.Minute, func(ctx context.Context) error {
		_, err := j.Sweep(ctx)
		return err
	})
}

// Sweep removes stale files once and returns how many went away.
func (j *OutputJanitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if e.IsDir() || !isVideoArtifact(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.log.Warn().Err(err).Str("file", e.Name()).Msg("could not remove stale video")
			continue
		}
		removed++
	}
	if removed > 0 {
		metrics.AddJanitorRemoved(removed)
		j.log.Info().Int("count", removed).Msg("stale videos removed")
	}
	return removed, nil
}

func isVideoArtifact(name string) bool {
	if !strings.HasPrefix(name, "video_") {
		return false
	}
	return strings.HasSuffix(name, ".mp4") || strings.HasSuffix(name, ".part")
}
