package usecase

import (
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"pairbot/internal/metrics"
)

// Cleaner removes a session's local credential bundle.
type Cleaner struct {
	logger zerolog.Logger
}

func NewCleaner(logger zerolog.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Cleanup recursively removes path. It returns false when path does not exist
// and never fails: removal errors are logged and swallowed.
func (c *Cleaner) Cleanup(path string) bool {
	if _, err := os.Lstat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Error().Err(err).Str("path", path).Msg("stat session directory")
		}
		metrics.CleanupsTotal.WithLabelValues("noop").Inc()
		return false
	}
	if err := os.RemoveAll(path); err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("remove session directory")
		metrics.CleanupsTotal.WithLabelValues("error").Inc()
		return true
	}
	metrics.CleanupsTotal.WithLabelValues("removed").Inc()
	return true
}
