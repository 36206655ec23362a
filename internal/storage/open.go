package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/Shirozy/Globot/pkg/logx"
)

// Store is the audit persistence API used by the relay and the digest.
type Store interface {
	RecordRelay(ctx context.Context, e RelayEntry) error
	Totals(ctx context.Context, since time.Time) (Totals, error)
	GuildTotals(ctx context.Context, guildID string, since time.Time) (Totals, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the audit trail is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
