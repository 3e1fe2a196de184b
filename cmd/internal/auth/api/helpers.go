package authapi

import (
	"time"

	"ticketline/cmd/internal/auth/session"
)

func toGrant(r grantResponse) session.Grant {
	var expiresIn time.Duration
	if r.ExpiresIn > 0 {
		expiresIn = time.Duration(r.ExpiresIn) * time.Second
	}
	return session.Grant{
		AccessToken: r.AccessToken,
		User:        r.User.Normalized(),
		ExpiresIn:   expiresIn,
	}
}
