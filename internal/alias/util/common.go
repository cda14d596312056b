package util

import (
	"io"
	"log/slog"
)

// CloseQuietly closes c and logs the error instead of returning it.
// Used in defers where the close error cannot change the outcome.
func CloseQuietly(c io.Closer, logger *slog.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && logger != nil {
		logger.Warn("close failed", "error", err)
	}
}
