package realtime

import (
	"time"

	"ticketline/cmd/identity/ids"
)

// NewSessionID returns a ULID used as stream session id.
func NewSessionID(now time.Time) string {
	return ids.MustULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULIDs sort by time, which keeps frames ordered in logs.
func NewEnvelopeID(now time.Time) string {
	return ids.MustULID(now)
}
