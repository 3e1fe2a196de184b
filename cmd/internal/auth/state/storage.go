package state

import (
	"context"
	"sync"
)

// Storage is the durable backend for the persisted snapshot.
// Implementations store opaque payloads; encoding and sealing live in Codec.
type Storage interface {
	// Load returns the last saved payload or ErrNoSnapshot.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the payload.
	Save(ctx context.Context, payload []byte) error
	// Clear removes the payload. Clearing an empty storage is not an error.
	Clear(ctx context.Context) error
}

// MemoryStorage keeps the payload in process memory.
// It is the default for tests and for agents that must not touch disk.
type MemoryStorage struct {
	mu      sync.Mutex
	payload []byte
	saves   int
}

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payload == nil {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), m.payload...), nil
}

func (m *MemoryStorage) Save(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = append([]byte(nil), payload...)
	m.saves++
	return nil
}

func (m *MemoryStorage) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = nil
	return nil
}

// Saves returns how many writes reached the storage.
func (m *MemoryStorage) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
