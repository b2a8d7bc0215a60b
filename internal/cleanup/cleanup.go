package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/beatmap-tools/packgrab/internal/logctx"
)

const partSuffix = ".part"

// RemoveStaleParts deletes partial files whose finished archive
// already exists next to them. Those partials can never be resumed
// into anything useful; the completed file has already won. Partials
// without a finished counterpart are kept for resuming.
func RemoveStaleParts(ctx context.Context, dir string) error {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing downloaded yet
		}

		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), partSuffix) {
			continue
		}

		final := strings.TrimSuffix(entry.Name(), partSuffix)
		if _, err := os.Stat(filepath.Join(dir, final)); err != nil {
			continue
		}

		partPath := filepath.Join(dir, entry.Name())
		if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete stale partial file", "file", partPath, "err", err)

			return err
		}

		logger.Info("deleted stale partial file", "file", partPath)
	}

	return nil
}
