package auth

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elskow/shotlog/internal/audit"
)

func TestService_ListUsers(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.register(t, fmt.Sprintf("user%d@example.com", i))
	}

	tests := []struct {
		name      string
		limit     int
		offset    int
		wantLimit int
		wantLen   int
	}{
		{name: "default page", limit: 0, wantLimit: DefaultUserPageSize, wantLen: 3},
		{name: "clamped", limit: 10_000, wantLimit: MaxUserPageSize, wantLen: 3},
		{name: "small page", limit: 2, wantLimit: 2, wantLen: 2},
		{name: "offset", limit: 2, offset: 2, wantLimit: 2, wantLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := env.svc.ListUsers(context.Background(), tt.limit, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, int64(3), page.Total)
			assert.Equal(t, tt.wantLimit, page.Limit)
			assert.Len(t, page.Users, tt.wantLen)
		})
	}
}

func TestService_UpdateUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	adminProfile := env.register(t, "root@example.com")
	env.promote(t, "root@example.com")
	actor := Identity{UserID: adminProfile.ID, Role: RoleAdmin}

	target := env.register(t, "bob@example.com")
	login, err := env.svc.Login(ctx, "bob@example.com", testPassword)
	require.NoError(t, err)

	role := RoleAdmin
	updated, err := env.svc.UpdateUser(ctx, actor, target.ID, UpdateUserInput{Role: &role})
	require.NoError(t, err)
	assert.True(t, updated.IsAdmin)

	disabled := true
	updated, err = env.svc.UpdateUser(ctx, actor, target.ID, UpdateUserInput{Disabled: &disabled})
	require.NoError(t, err)
	assert.True(t, updated.Disabled)

	// Disabling revokes every session.
	_, err = env.svc.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.svc.Login(ctx, "bob@example.com", testPassword)
	assert.ErrorIs(t, err, ErrAccountDisabled)

	enabled := false
	_, err = env.svc.UpdateUser(ctx, actor, target.ID, UpdateUserInput{Disabled: &enabled})
	require.NoError(t, err)

	assert.Subset(t, env.auditor.actions(), []audit.Action{
		audit.ActionAdminRoleChanged,
		audit.ActionAdminUserDisabled,
		audit.ActionAdminUserEnabled,
	})
}

func TestService_UpdateUserRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	adminProfile := env.register(t, "root@example.com")
	env.promote(t, "root@example.com")
	actor := Identity{UserID: adminProfile.ID, Role: RoleAdmin}

	disabled := true
	demote := RoleUser

	_, err := env.svc.UpdateUser(ctx, actor, adminProfile.ID, UpdateUserInput{Disabled: &disabled})
	assert.ErrorIs(t, err, ErrSelfModification)

	_, err = env.svc.UpdateUser(ctx, actor, adminProfile.ID, UpdateUserInput{Role: &demote})
	assert.ErrorIs(t, err, ErrSelfModification)

	_, err = env.svc.UpdateUser(ctx, actor, adminProfile.ID, UpdateUserInput{})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = env.svc.UpdateUser(ctx, actor, uuid.New(), UpdateUserInput{Disabled: &disabled})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_UnlockUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.register(t, "bob@example.com")
	actor := Identity{UserID: uuid.New(), Role: RoleAdmin}

	for i := 0; i < env.cfg.Lockout.MaxAttempts; i++ {
		_, _ = env.svc.Login(ctx, "bob@example.com", "Wr0ngPassword")
	}
	_, err := env.svc.Login(ctx, "bob@example.com", testPassword)
	require.ErrorIs(t, err, ErrAccountLocked)

	profile, err := env.svc.UnlockUser(ctx, actor, target.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, profile.ID)

	_, err = env.svc.Login(ctx, "bob@example.com", testPassword)
	assert.NoError(t, err)
	assert.Contains(t, env.auditor.actions(), audit.ActionAdminUserUnlocked)

	_, err = env.svc.UnlockUser(ctx, actor, uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_RevokeSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.register(t, "bob@example.com")
	actor := Identity{UserID: uuid.New(), Role: RoleAdmin}

	first, err := env.svc.Login(ctx, "bob@example.com", testPassword)
	require.NoError(t, err)
	second, err := env.svc.Login(ctx, "bob@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.svc.RevokeSessions(ctx, actor, target.ID))

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		_, err = env.svc.Refresh(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	}
	assert.Contains(t, env.auditor.actions(), audit.ActionAdminSessionsRevoked)

	assert.ErrorIs(t, env.svc.RevokeSessions(ctx, actor, uuid.New()), ErrUserNotFound)
}

func TestService_BootstrapAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.BootstrapAdmin(ctx, "", ""))
	require.NoError(t, env.svc.BootstrapAdmin(ctx, " Root@Example.com ", testPassword))

	login, err := env.svc.Login(ctx, "root@example.com", testPassword)
	require.NoError(t, err)
	assert.True(t, login.User.IsAdmin)
	assert.Contains(t, env.auditor.actions(), audit.ActionAdminBootstrapped)

	// A second start leaves the existing account alone.
	require.NoError(t, env.svc.BootstrapAdmin(ctx, "root@example.com", "An0therPassword"))
	_, err = env.svc.Login(ctx, "root@example.com", testPassword)
	assert.NoError(t, err)

	var verr *ValidationError
	err = env.svc.BootstrapAdmin(ctx, "new-root@example.com", "weak")
	assert.ErrorAs(t, err, &verr)
}
