package lifecycle

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// lockSentinel is the file name a crashed embedded store leaves behind. Only
// files with exactly this name are remediation candidates.
const lockSentinel = "LOCK"

// processLockName guards a data directory against concurrent node processes.
const processLockName = "newsmesh.lock"

// RemediateStaleLocks walks root and removes every regular file named exactly
// LOCK. Directories and near-miss names are left alone. It returns the paths
// removed; removal failures are logged and skipped so one stubborn file does
// not block startup.
func RemediateStaleLocks(root string, logger *zap.Logger) ([]string, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var removed []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Warn("lock scan skipping entry", zap.String("path", path), zap.Error(walkErr))
			return nil
		}
		if d.IsDir() || d.Name() != lockSentinel {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove stale lock", zap.String("path", path), zap.Error(err))
			return nil
		}
		logger.Info("removed stale lock", zap.String("path", path))
		removed = append(removed, path)
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("scanning %s for stale locks: %w", root, err)
	}
	return removed, nil
}

// acquireDirLock takes an exclusive advisory lock on the data directory so a
// second node cannot open the same stores. The caller keeps the returned lock
// for the life of the process and unlocks it on shutdown.
func acquireDirLock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, processLockName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking data dir %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("data dir %s is held by another process", dir)
	}
	return fl, nil
}
