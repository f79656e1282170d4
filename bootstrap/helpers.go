package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// DataDirectories defines the paths that need to exist for logwarden to run.
type DataDirectories struct {
	Base   string // Base data directory
	ML     string // Model artifact directory; empty when models live in SQLite
	SQLite string // SQLite database path
}

// EnsureDataDirectories creates required data directories and verifies they
// are writable. It runs before any store is opened.
func EnsureDataDirectories(dirs DataDirectories, sugar *zap.SugaredLogger) error {
	toCreate := []string{dirs.Base, dirs.ML}
	if dirs.SQLite != "" && dirs.SQLite != ":memory:" {
		toCreate = append(toCreate, filepath.Dir(dirs.SQLite))
	}

	for _, dir := range toCreate {
		if dir == "" {
			continue
		}
		absPath, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for %s: %w", dir, err)
		}

		if err := os.MkdirAll(absPath, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w\n"+
				"  Remediation: Ensure the parent directory exists and is writable\n"+
				"  For Docker: Check volume mount permissions", dir, err)
		}

		check, err := os.CreateTemp(absPath, ".logwarden_write_test*")
		if err != nil {
			return fmt.Errorf("directory %s is not writable: %w\n"+
				"  Remediation: Check file system permissions, e.g. 'chmod -R u+w %s'", dir, err, absPath)
		}
		_ = check.Close()
		_ = os.Remove(check.Name())

		sugar.Debugw("Data directory ready", "path", absPath)
	}
	return nil
}

// ClassifySQLiteError turns a store open failure into an operator hint.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	msg := strings.ToLower(err.Error())
	absPath, _ := filepath.Abs(dbPath)

	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "access denied"):
		return fmt.Sprintf("Permission denied accessing SQLite database at %s.\n"+
			"  Remediation: check ownership and mode of the file and of %s", absPath, filepath.Dir(absPath))
	case strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy"):
		return fmt.Sprintf("SQLite database at %s is locked by another process.\n"+
			"  Remediation: wait for the other writer to finish, or stop the other logwarden instance", absPath)
	case strings.Contains(msg, "no space") || strings.Contains(msg, "sqlite_full"):
		return fmt.Sprintf("Disk full - cannot write to SQLite database at %s.\n"+
			"  Remediation: free space on %s", absPath, filepath.Dir(absPath))
	case strings.Contains(msg, "corrupt") || strings.Contains(msg, "malformed"):
		return fmt.Sprintf("SQLite database at %s appears to be corrupted.\n"+
			"  Remediation: back it up, then run: sqlite3 %s \"PRAGMA integrity_check;\"", absPath, absPath)
	case strings.Contains(msg, "read-only"):
		return fmt.Sprintf("SQLite database location is on a read-only file system: %s.\n"+
			"  Remediation: move it via LOGWARDEN_SQLITE_PATH", absPath)
	}
	return fmt.Sprintf("Failed to initialize SQLite database at %s: %v", absPath, err)
}

// ClassifyRedisError turns a Redis connection failure into an operator hint.
func ClassifyRedisError(err error, addr string) string {
	if err == nil {
		return ""
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to Redis at %s timed out.\n"+
			"  Remediation: verify network connectivity, e.g. 'nc -zv %s'", addr, addr)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return fmt.Sprintf("Connection refused by Redis at %s.\n"+
			"  Redis is probably not running. Start it, or set redis.enabled=false\n"+
			"  to fall back to the in-process run lock.", addr)
	}
	return fmt.Sprintf("Failed to connect to Redis at %s: %v", addr, err)
}
