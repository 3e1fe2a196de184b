package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbApplicationName = "ticketline"
	// The agent writes a snapshot row per session change; idle connections
	// are released quickly instead of pinned for hours.
	dbMaxConnIdleTime = 5 * time.Minute
	dbConnectTimeout  = 3 * time.Second
)

// NewDBPool opens the pool behind postgres snapshot storage and checks that
// a connection can be acquired. The snapshot table itself is created by
// state.PostgresStorage.EnsureSchema.
func NewDBPool(ctx context.Context, cfg Config, log *slog.Logger) (*pgxpool.Pool, error) {
	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("storage.postgres.pool",
		"target", dbTarget(pcfg),
		"max_conns", pcfg.MaxConns,
		"min_conns", pcfg.MinConns,
	)
	return pool, nil
}

// poolConfig parses cfg.DatabaseURL and applies the agent's pool limits.
// Limits set in the URL (pool_max_conns=...) win over config defaults.
func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: database url: %v", ErrConfig, err)
	}

	if cfg.DBMaxConns > 0 && !strings.Contains(cfg.DatabaseURL, "pool_max_conns") {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 && !strings.Contains(cfg.DatabaseURL, "pool_min_conns") {
		pcfg.MinConns = min(cfg.DBMinConns, pcfg.MaxConns)
	}
	pcfg.MaxConnIdleTime = dbMaxConnIdleTime

	rp := pcfg.ConnConfig.RuntimeParams
	if _, ok := rp["application_name"]; !ok {
		rp["application_name"] = dbApplicationName
	}
	return pcfg, nil
}

// dbTarget describes the database for logs without credentials.
func dbTarget(pcfg *pgxpool.Config) string {
	cc := pcfg.ConnConfig
	return fmt.Sprintf("%s:%d/%s", cc.Host, cc.Port, cc.Database)
}

// PingDB reports whether the database answers within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
