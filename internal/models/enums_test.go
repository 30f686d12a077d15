package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePermissions_SortsAndDedupes(t *testing.T) {
	got, err := ParsePermissions([]string{"view_analytics", "manage_content", "view_analytics"})
	require.NoError(t, err)
	require.Equal(t, []Permission{PermManageContent, PermViewAnalytics}, got)
}

func TestParsePermissions_RejectsUnknownToken(t *testing.T) {
	_, err := ParsePermissions([]string{"manage_content", "launch_rockets"})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownPermission))
	require.Contains(t, err.Error(), "launch_rockets")
}

func TestParsePermissions_EmptyIsEmptySet(t *testing.T) {
	got, err := ParsePermissions(nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got, 0)
}

func TestParseRoleAndPlan(t *testing.T) {
	r, err := ParseRole(" Support ")
	require.NoError(t, err)
	require.Equal(t, RoleSupport, r)

	_, err = ParseRole("owner")
	require.ErrorIs(t, err, ErrUnknownRole)

	p, err := ParsePlan("professional")
	require.NoError(t, err)
	require.Equal(t, "Amplify", p.DisplayName())

	_, err = ParsePlan("platinum")
	require.ErrorIs(t, err, ErrUnknownPlan)
}

func TestEffectiveRoleDefaultsToUser(t *testing.T) {
	u := &User{}
	require.Equal(t, RoleUser, u.EffectiveRole())
	admin := RoleAdmin
	u.Role = &admin
	require.Equal(t, RoleAdmin, u.EffectiveRole())
}

func TestCloneIsDeep(t *testing.T) {
	role := RoleModerator
	u := &User{ID: 1, Email: StringPtr("a@b.com"), Role: &role, Permissions: []Permission{PermManageContent}}
	c := u.Clone()
	*c.Email = "changed@b.com"
	*c.Role = RoleAdmin
	c.Permissions[0] = PermViewAnalytics

	require.Equal(t, "a@b.com", u.EmailValue())
	require.Equal(t, RoleModerator, *u.Role)
	require.Equal(t, PermManageContent, u.Permissions[0])
}
