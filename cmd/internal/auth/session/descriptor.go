package session

import "time"

// Descriptor is the single live session record: when the current access
// token was issued and when it expires.
type Descriptor struct {
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidAt reports whether the session is still within its lifetime at now.
func (d Descriptor) ValidAt(now time.Time) bool {
	return now.Before(d.ExpiresAt)
}

// Remaining returns the lifetime left at now (never negative).
func (d Descriptor) Remaining(now time.Time) time.Duration {
	r := d.ExpiresAt.Sub(now)
	if r < 0 {
		return 0
	}
	return r
}
