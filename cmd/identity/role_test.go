package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleHas_AllMasks(t *testing.T) {
	t.Parallel()

	for role := Role(0); role <= 15; role++ {
		for required := Role(0); required <= 15; required++ {
			want := role&required == required
			assert.Equalf(t, want, role.Has(required), "role=%d required=%d", role, required)
		}
	}
}

func TestRoleHas_Examples(t *testing.T) {
	t.Parallel()

	both := RoleAdmin | RolePassenger
	assert.True(t, both.Has(RoleAdmin))
	assert.False(t, both.Has(RoleOperator))
	assert.False(t, Role(0).Has(RoleAdmin))
	assert.True(t, Role(0).Has(RoleNone))
}

func TestRoleBitValues(t *testing.T) {
	t.Parallel()

	assert.EqualValues(t, 1, RolePassenger)
	assert.EqualValues(t, 2, RoleAdmin)
	assert.EqualValues(t, 4, RoleOperator)
	assert.EqualValues(t, 8, RoleSupport)
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Role
	}{
		{in: "", want: RoleNone},
		{in: "none", want: RoleNone},
		{in: "admin", want: RoleAdmin},
		{in: "Admin|Operator", want: RoleAdmin | RoleOperator},
		{in: "passenger, support", want: RolePassenger | RoleSupport},
		{in: "6", want: RoleAdmin | RoleOperator},
	}

	for _, tc := range cases {
		got, err := ParseRole(tc.in)
		require.NoErrorf(t, err, "ParseRole(%q)", tc.in)
		assert.Equalf(t, tc.want, got, "ParseRole(%q)", tc.in)
	}

	_, err := ParseRole("captain")
	require.Error(t, err)
	assert.True(t, IsUnknownRole(err))
}

func TestRoleString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", RoleNone.String())
	assert.Equal(t, "passenger|admin", (RolePassenger | RoleAdmin).String())
	assert.Equal(t, "support|0x10", (RoleSupport | Role(16)).String())
}
