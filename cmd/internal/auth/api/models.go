package authapi

import "ticketline/cmd/identity"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Platform string `json:"platform"`
}

// grantResponse is the body of login and refresh responses.
type grantResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type,omitempty"`
	ExpiresIn   int64         `json:"expires_in"`
	User        identity.User `json:"user"`
}
