package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gorm.io/driver/postgres"
)

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

var memoryCounter atomic.Uint64

// FileDSN converts a filesystem path into an on-disk SQLite DSN with sensible
// defaults. Callers must ensure the path is non-empty.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// MemoryDSN returns a DSN for a private shared-cache in-memory database.
// Each call yields a distinct database.
func MemoryDSN() string {
	return fmt.Sprintf("file:reserved-%d?mode=memory&cache=shared", memoryCounter.Add(1))
}

// ResolveDSN passes postgres DSNs and explicit sqlite "file:" DSNs through and
// converts anything else into a FileDSN.
func ResolveDSN(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if _, ok := dialector(trimmed).(*postgres.Dialector); ok || strings.HasPrefix(trimmed, "file:") {
		return trimmed, nil
	}
	return FileDSN(trimmed)
}
