package storage

import (
	"errors"
	"strings"

	logx "morningbot/pkg/logx"
)

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file", "json":
		return openFile(cfg, log)
	case "none":
		return nil, errors.New("storage driver \"none\" is not supported: preferences must be persisted")
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
