package state

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage persists the payload in ticketline.auth_snapshots, one row per key.
// It lets several agents on one machine profile share a session.
type PostgresStorage struct {
	pool *pgxpool.Pool
	key  string
}

// NewPostgresStorage returns a storage bound to one snapshot key.
func NewPostgresStorage(pool *pgxpool.Pool, key string) (*PostgresStorage, error) {
	if pool == nil {
		return nil, errors.New("state: nil db pool")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "default"
	}
	return &PostgresStorage{pool: pool, key: key}, nil
}

// EnsureSchema creates the snapshot table when missing.
func (p *PostgresStorage) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS ticketline`); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ticketline.auth_snapshots (
			key        text PRIMARY KEY,
			payload    bytea NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (p *PostgresStorage) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `
		SELECT payload FROM ticketline.auth_snapshots WHERE key = $1
	`, p.key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (p *PostgresStorage) Save(ctx context.Context, payload []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO ticketline.auth_snapshots (key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, p.key, payload)
	return err
}

func (p *PostgresStorage) Clear(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		DELETE FROM ticketline.auth_snapshots WHERE key = $1
	`, p.key)
	return err
}
