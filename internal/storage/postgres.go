package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tgsbot/pkg/logx"
)

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Registry, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db, "postgres", "migrations/postgres", log); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("registry opened")
	return newSQLRegistry(db, bindDollar, log), nil
}
