package storage

import (
	"context"
	"fmt"
	"strings"

	"tgsbot/pkg/logx"
)

// Open returns the registry for cfg.Driver with its schema migrated.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Registry, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}
