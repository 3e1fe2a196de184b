package v1

// HelloPayload is sent by clients. RequiredRole uses role names
// ("admin|operator") or a decimal mask; empty means no role requirement.
type HelloPayload struct {
	RequiredRole string `json:"required_role,omitempty"`
}

// HelloAckPayload confirms the stream.
type HelloAckPayload struct {
	SessionID    string `json:"session_id"`
	RequiredRole string `json:"required_role"`
}

// User is the public user view.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   uint32 `json:"role"`
	Status string `json:"status"`
}

// AuthStatePayload is the public auth state plus the guard decision for
// the stream's required role. The access token is never included.
type AuthStatePayload struct {
	Authenticated bool     `json:"authenticated"`
	Loading       bool     `json:"loading"`
	Hydrated      bool     `json:"hydrated"`
	Error         string   `json:"error,omitempty"`
	User          *User    `json:"user"`
	Roles         []string `json:"roles"`
	Version       uint64   `json:"version"`
	Decision      string   `json:"decision"`
}

// ErrorPayload describes a rejected client envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
