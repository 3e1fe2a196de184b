package state

import "errors"

var (
	// ErrNoSnapshot is returned by Storage.Load when nothing was persisted yet.
	ErrNoSnapshot = errors.New("no persisted snapshot")

	// ErrCorruptSnapshot is returned when a persisted payload cannot be decoded or unsealed.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrUnsupportedVersion is returned for snapshots written by an unknown format version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)
