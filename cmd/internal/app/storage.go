package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"ticketline/cmd/internal/auth/state"
	"ticketline/cmd/security/token"
)

const (
	snapshotKey    = "auth"
	credentialsKey = "credentials"
)

// Backends holds the storage slots the agent persists to.
type Backends struct {
	// Snapshot stores the persisted auth state subset.
	Snapshot state.Storage
	// Credentials stores the renewal cookie jar.
	Credentials state.Storage

	// File is set for file storage so the snapshot can be watched.
	File *state.FileStorage
	// Pool is set for postgres storage; Backends owns it.
	Pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (b *Backends) Close() {
	if b != nil && b.Pool != nil {
		b.Pool.Close()
	}
}

// OpenBackends builds the storage selected by cfg.Storage.
func OpenBackends(ctx context.Context, cfg Config, log *slog.Logger) (*Backends, error) {
	switch cfg.Storage {
	case StorageMemory:
		log.Info("storage.memory")
		return &Backends{
			Snapshot:    state.NewMemoryStorage(),
			Credentials: state.NewMemoryStorage(),
		}, nil

	case StorageFile:
		snap := state.NewFileStorage(cfg.StateFile)
		log.Info("storage.file", "path", snap.Path(), "credentials", cfg.CredentialsFile)
		return &Backends{
			Snapshot:    snap,
			Credentials: state.NewFileStorage(cfg.CredentialsFile),
			File:        snap,
		}, nil

	case StoragePostgres:
		pool, err := NewDBPool(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}

		snap, err := state.NewPostgresStorage(pool, snapshotKey)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := snap.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		creds, err := state.NewPostgresStorage(pool, credentialsKey)
		if err != nil {
			pool.Close()
			return nil, err
		}

		log.Info("storage.postgres")
		return &Backends{Snapshot: snap, Credentials: creds, Pool: pool}, nil

	default:
		return nil, fmt.Errorf("%w: unknown storage %q", ErrConfig, cfg.Storage)
	}
}

// NewStore builds the auth state store over b.Snapshot. sealer may be nil.
func NewStore(log *slog.Logger, b *Backends, sealer *token.Sealer, opts ...state.Option) *state.Store {
	base := []state.Option{
		state.WithLogger(log),
		state.WithStorage(b.Snapshot),
		state.WithCodec(state.NewCodec(sealer, snapshotKey)),
	}
	return state.NewStore(append(base, opts...)...)
}
