package storage

import (
	"strings"

	"github.com/cockroachdb/errors"

	logx "stayconnect/pkg/logx"
)

// Open returns the store for cfg.Driver, or nil with no error when the
// driver is empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.Newf("storage: unknown driver %q", cfg.Driver)
	}
}
