package guard

import (
	"ticketline/cmd/identity"
	"ticketline/cmd/internal/auth/state"
)

// Decision is the outcome of evaluating a guard.
type Decision int

const (
	ShowLoading Decision = iota
	ShowContent
	Deny
)

func (d Decision) String() string {
	switch d {
	case ShowLoading:
		return "loading"
	case ShowContent:
		return "content"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Evaluate decides what a protected view shows.
//
// Until hydration completes, and while the store is loading, the answer is
// ShowLoading. An unauthenticated state is denied. A non-zero required mask
// is satisfied when every required bit is set on the user's role.
func Evaluate(st state.State, hydrated bool, required identity.Role) Decision {
	if !hydrated || st.IsLoading {
		return ShowLoading
	}
	if !st.IsAuthenticated || st.User == nil {
		return Deny
	}
	if !st.User.Role.Has(required) {
		return Deny
	}
	return ShowContent
}
