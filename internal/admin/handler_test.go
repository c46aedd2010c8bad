package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/audit"
	"github.com/elskow/shotlog/internal/auth"
	"github.com/elskow/shotlog/internal/config"
)

type fakeUsers struct {
	profiles map[uuid.UUID]auth.Profile
	updated  auth.UpdateUserInput
	revoked  []uuid.UUID
	err      error
}

func (f *fakeUsers) ListUsers(_ context.Context, limit, offset int) (*auth.UserPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := &auth.UserPage{Limit: limit, Offset: offset, Total: int64(len(f.profiles))}
	for _, p := range f.profiles {
		page.Users = append(page.Users, p)
	}
	return page, nil
}

func (f *fakeUsers) GetUser(_ context.Context, id uuid.UUID) (*auth.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &p, nil
}

func (f *fakeUsers) UpdateUser(_ context.Context, actor auth.Identity, id uuid.UUID, in auth.UpdateUserInput) (*auth.Profile, error) {
	if actor.UserID == id {
		return nil, auth.ErrSelfModification
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	f.updated = in
	if in.Role != nil {
		p.Role = *in.Role
	}
	return &p, nil
}

func (f *fakeUsers) UnlockUser(_ context.Context, _ auth.Identity, id uuid.UUID) (*auth.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &p, nil
}

func (f *fakeUsers) RevokeSessions(_ context.Context, _ auth.Identity, id uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeAudit struct {
	filter  audit.Filter
	entries []audit.Entry
	err     error
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) ([]audit.Entry, int64, error) {
	f.filter = filter
	return f.entries, int64(len(f.entries)), f.err
}

type testServer struct {
	router chi.Router
	signer *auth.TokenSigner
	users  *fakeUsers
	audit  *fakeAudit
	target uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	signer := auth.NewTokenSigner(&config.AuthConfig{
		JWTSecret:           "0123456789abcdef0123456789abcdef",
		Issuer:              "shotlog",
		Audience:            "shotlog-api",
		AccessTokenDuration: 15 * time.Minute,
	})

	target := uuid.New()
	users := &fakeUsers{profiles: map[uuid.UUID]auth.Profile{
		target: {ID: target, Email: "bob@example.com", Role: auth.RoleUser},
	}}
	auditLog := &fakeAudit{}

	r := chi.NewRouter()
	NewHandler(users, auditLog, auth.NewAuthMiddleware(signer), zap.NewNop()).RegisterRoutes(r)

	return &testServer{router: r, signer: signer, users: users, audit: auditLog, target: target}
}

func (s *testServer) token(t *testing.T, role auth.Role) (string, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	token, _, err := s.signer.Issue(id, role)
	require.NoError(t, err)
	return token, id
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	s := newTestServer(t)
	userToken, _ := s.token(t, auth.RoleUser)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/admin/users"},
		{http.MethodGet, "/admin/users/" + s.target.String()},
		{http.MethodPatch, "/admin/users/" + s.target.String()},
		{http.MethodPost, "/admin/users/" + s.target.String() + "/unlock"},
		{http.MethodPost, "/admin/users/" + s.target.String() + "/revoke-sessions"},
		{http.MethodGet, "/admin/audit"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := s.do(t, rt.method, rt.path, map[string]any{}, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = s.do(t, rt.method, rt.path, map[string]any{}, userToken)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
	assert.Empty(t, s.users.revoked)
}

func TestAdminRoutes_ListAndGetUsers(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.token(t, auth.RoleAdmin)

	rec := s.do(t, http.MethodGet, "/admin/users?limit=10&offset=0", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data auth.UserPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Data.Total)
	assert.Equal(t, 10, resp.Data.Limit)

	rec = s.do(t, http.MethodGet, "/admin/users?limit=abc", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/users/"+s.target.String(), nil, adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/users/"+uuid.NewString(), nil, adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/users/not-an-id", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes_UpdateUser(t *testing.T) {
	s := newTestServer(t)
	adminToken, adminID := s.token(t, auth.RoleAdmin)
	path := "/admin/users/" + s.target.String()

	rec := s.do(t, http.MethodPatch, path, map[string]any{"role": "admin", "disabled": true}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.users.updated.Role)
	assert.Equal(t, auth.RoleAdmin, *s.users.updated.Role)
	require.NotNil(t, s.users.updated.Disabled)
	assert.True(t, *s.users.updated.Disabled)

	rec = s.do(t, http.MethodPatch, path, map[string]any{"role": "superuser"}, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.users.profiles[adminID] = auth.Profile{ID: adminID, Role: auth.RoleAdmin}
	rec = s.do(t, http.MethodPatch, "/admin/users/"+adminID.String(), map[string]any{"disabled": true}, adminToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminRoutes_UnlockAndRevoke(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.token(t, auth.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/admin/users/"+s.target.String()+"/unlock", nil, adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/admin/users/"+s.target.String()+"/revoke-sessions", nil, adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{s.target}, s.users.revoked)

	s.users.err = &auth.StoreError{Op: "revoke all", Err: errors.New("connection refused")}
	rec = s.do(t, http.MethodPost, "/admin/users/"+s.target.String()+"/revoke-sessions", nil, adminToken)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRoutes_ListAudit(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.token(t, auth.RoleAdmin)
	s.audit.entries = []audit.Entry{{ID: uuid.New(), Action: audit.ActionLoginSuccess, CreatedAt: time.Now()}}

	rec := s.do(t, http.MethodGet, "/admin/audit?userId="+s.target.String()+"&limit=5&offset=2", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.audit.filter.UserID)
	assert.Equal(t, s.target, *s.audit.filter.UserID)
	assert.Equal(t, 5, s.audit.filter.Limit)
	assert.Equal(t, 2, s.audit.filter.Offset)

	var resp struct {
		Data auditPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Data.Total)
	assert.Len(t, resp.Data.Entries, 1)

	rec = s.do(t, http.MethodGet, "/admin/audit?userId=bogus", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.audit.err = errors.New("db down")
	rec = s.do(t, http.MethodGet, "/admin/audit", nil, adminToken)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
