package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// TransactionCounter returns the highest transaction number recorded in a
// repository directory. The backup engine keeps its index and hints segments
// in files named index.N and hints.N where N grows with every committed
// transaction. A repository that was never written to reports zero, so a
// counter comparison before and after a session detects whether the session
// committed anything.
func (t *Tree) TransactionCounter(repoPath string) (int64, error) {
	entries, err := os.ReadDir(repoPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read repository directory %s: %w", repoPath, err)
	}

	var max int64
	for _, entry := range entries {
		name := entry.Name()
		var suffix string
		switch {
		case strings.HasPrefix(name, "index."):
			suffix = strings.TrimPrefix(name, "index.")
		case strings.HasPrefix(name, "hints."):
			suffix = strings.TrimPrefix(name, "hints.")
		default:
			continue
		}
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

// SetStorageQuota stamps the engine-enforced quota into a repository's
// config file. A repository the client has not initialized yet has no config
// file; the quota then takes effect through the serve command line until the
// first initialization.
func (t *Tree) SetStorageQuota(repoPath string, quotaBytes int64) error {
	configPath := filepath.Join(repoPath, "config")
	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", configPath, err)
	}

	cfg, err := ini.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", configPath, err)
	}

	section := cfg.Section("repository")
	section.Key("storage_quota").SetValue(strconv.FormatInt(quotaBytes, 10))

	if err := cfg.SaveTo(configPath); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}

	t.logger.Debug().
		Str("repository", repoPath).
		Int64("quota_bytes", quotaBytes).
		Msg("stamped storage quota into repository config")
	return nil
}
