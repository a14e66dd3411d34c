package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserPassword(t *testing.T) {
	u := &User{Email: "test@example.com"}
	require.NoError(t, u.SetPassword("password123"))

	assert.NotEmpty(t, u.PasswordHash)
	assert.NotEqual(t, "password123", u.PasswordHash)
	assert.True(t, u.CheckPassword("password123"))
	assert.False(t, u.CheckPassword("wrongpassword"))
	assert.False(t, u.CheckPassword(""))
}

func TestUserLocked(t *testing.T) {
	now := time.Now()
	u := &User{}
	assert.False(t, u.Locked(now))

	future := now.Add(10 * time.Minute)
	u.LockedUntil = &future
	assert.True(t, u.Locked(now))

	past := now.Add(-time.Minute)
	u.LockedUntil = &past
	assert.False(t, u.Locked(now))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestRoleAssignmentExpiredAndScope(t *testing.T) {
	now := time.Now()
	a := &RoleAssignment{}
	assert.False(t, a.Expired(now))

	past := now.Add(-time.Second)
	a.ExpiresAt = &past
	assert.True(t, a.Expired(now))

	future := now.Add(time.Hour)
	a.ExpiresAt = &future
	assert.False(t, a.Expired(now))

	pid := uint(3)
	other := uint(4)
	global := &RoleAssignment{}
	scoped := &RoleAssignment{ProjectID: &pid}

	assert.True(t, global.SameScope(nil))
	assert.False(t, global.SameScope(&pid))
	assert.True(t, scoped.SameScope(&pid))
	assert.False(t, scoped.SameScope(&other))
	assert.False(t, scoped.SameScope(nil))
}

func TestInvitationLapsed(t *testing.T) {
	now := time.Now()
	inv := &Invitation{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, inv.Lapsed(now))

	inv.ExpiresAt = now.Add(-time.Second)
	assert.True(t, inv.Lapsed(now))

	// The boundary instant counts as lapsed.
	inv.ExpiresAt = now
	assert.True(t, inv.Lapsed(now))
}

func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"email": "x@example.com", "attempts": float64(3)}

	v, err := m.Value()
	require.NoError(t, err)

	var out JSONMap
	require.NoError(t, out.Scan(v))
	assert.Equal(t, m, out)

	// nil maps persist as SQL NULL and scan back to nil.
	var empty JSONMap
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}

// Every permission a builtin role references must exist in the permission
// catalog, and every builtin role must have a permission mapping entry.
func TestBuiltinCatalogIsConsistent(t *testing.T) {
	known := map[string]bool{}
	for _, p := range BuiltinPermissions {
		known[p.Name] = true
	}

	for roleName, perms := range BuiltinRolePermissions {
		for _, p := range perms {
			assert.True(t, known[p], "role %s references unknown permission %s", roleName, p)
		}
	}

	for _, r := range BuiltinRoles {
		if r.Name == RoleGuest {
			assert.Empty(t, BuiltinRolePermissions[r.Name])
			continue
		}
		assert.NotEmpty(t, BuiltinRolePermissions[r.Name], "role %s grants nothing", r.Name)
	}
}
