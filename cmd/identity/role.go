package identity

import (
	"strconv"
	"strings"
)

// Role is a bitmask of independent, combinable roles.
type Role uint32

// Role bits. Values are part of the backend contract and must not change.
const (
	RolePassenger Role = 1
	RoleAdmin     Role = 2
	RoleOperator  Role = 4
	RoleSupport   Role = 8
)

// RoleNone means "no role required" when used as a requirement.
const RoleNone Role = 0

var roleNames = []struct {
	bit  Role
	name string
}{
	{RolePassenger, "passenger"},
	{RoleAdmin, "admin"},
	{RoleOperator, "operator"},
	{RoleSupport, "support"},
}

// Has reports whether every bit in required is also set in r.
// A multi-role user satisfies any requirement that is a subset of its bits.
func (r Role) Has(required Role) bool {
	return r&required == required
}

// Names returns the known role names set in r, in bit order.
func (r Role) Names() []string {
	var out []string
	for _, rn := range roleNames {
		if r&rn.bit != 0 {
			out = append(out, rn.name)
		}
	}
	return out
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	names := r.Names()
	var known Role
	for _, rn := range roleNames {
		known |= rn.bit
	}
	if extra := r &^ known; extra != 0 {
		names = append(names, "0x"+strconv.FormatUint(uint64(extra), 16))
	}
	return strings.Join(names, "|")
}

// ParseRole parses "admin|operator", "admin,operator" or a decimal mask ("6").
// An empty string parses to RoleNone.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return RoleNone, nil
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return Role(n), nil
	}

	var out Role
	for _, part := range strings.FieldsFunc(s, func(c rune) bool { return c == '|' || c == ',' }) {
		part = strings.ToLower(strings.TrimSpace(part))
		found := false
		for _, rn := range roleNames {
			if rn.name == part {
				out |= rn.bit
				found = true
				break
			}
		}
		if !found {
			return RoleNone, OpError{Op: "identity.ParseRole", Kind: ErrUnknownRole, Msg: part}
		}
	}
	return out, nil
}
