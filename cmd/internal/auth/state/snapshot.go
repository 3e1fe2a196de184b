package state

import (
	"encoding/json"
	"fmt"

	"ticketline/cmd/identity"
	"ticketline/cmd/security/token"
)

const snapshotVersion = 1

// Snapshot is the persisted subset of State.
// IsLoading and Error are never persisted and reset to defaults on reload.
type Snapshot struct {
	Version         int            `json:"version"`
	User            *identity.User `json:"user"`
	AccessToken     string         `json:"access_token,omitempty"`
	IsAuthenticated bool           `json:"is_authenticated"`
}

// Empty reports whether the snapshot carries no session at all.
func (s Snapshot) Empty() bool {
	return s.User == nil && s.AccessToken == "" && !s.IsAuthenticated
}

func (s Snapshot) equal(o Snapshot) bool {
	return s.AccessToken == o.AccessToken &&
		s.IsAuthenticated == o.IsAuthenticated &&
		sameUser(s.User, o.User)
}

// Codec turns snapshots into storage payloads, sealing them when a Sealer is set.
type Codec struct {
	sealer *token.Sealer
	aad    []byte
}

// NewCodec builds a codec. sealer may be nil (plain JSON). name binds sealed
// payloads to one storage slot.
func NewCodec(sealer *token.Sealer, name string) Codec {
	return Codec{sealer: sealer, aad: []byte("ticketline.auth:" + name)}
}

// Encode serializes snap.
func (c Codec) Encode(snap Snapshot) ([]byte, error) {
	snap.Version = snapshotVersion
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if c.sealer == nil {
		return b, nil
	}
	return c.sealer.Seal(b, c.aad)
}

// Decode parses a payload produced by Encode.
// The authenticated flag is recomputed from User so a hand-edited file cannot
// break the "authenticated iff user" invariant.
func (c Codec) Decode(b []byte) (Snapshot, error) {
	if c.sealer != nil {
		plain, err := c.sealer.Open(b, c.aad)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		b = plain
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	if snap.User != nil {
		if err := snap.User.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	}

	snap.IsAuthenticated = snap.User != nil
	return snap, nil
}
