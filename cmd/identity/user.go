package identity

import (
	"strings"
	"time"
)

// User is the booking principal returned by the backend on login and renewal.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Phone         *string   `json:"phone,omitempty"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	Status        Status    `json:"status"`
	EmailVerified bool      `json:"email_verified"`
	PhoneVerified bool      `json:"phone_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the fields the session agent relies on.
func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return invalid("identity.User.Validate", "missing id")
	}
	if u.Status != "" && !u.Status.Valid() {
		return invalid("identity.User.Validate", "unknown status "+string(u.Status))
	}
	return nil
}

// Normalized returns a copy with canonical email/phone.
func (u User) Normalized() User {
	u.Email = NormalizeEmail(u.Email)
	if u.Phone != nil {
		p := NormalizePhone(*u.Phone)
		if p == "" {
			u.Phone = nil
		} else {
			u.Phone = &p
		}
	}
	return u
}

// Clone returns a deep copy (Phone is a pointer).
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Phone != nil {
		p := *u.Phone
		cp.Phone = &p
	}
	return &cp
}
