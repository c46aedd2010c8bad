package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/api"
	"github.com/elskow/shotlog/internal/audit"
	"github.com/elskow/shotlog/internal/auth"
)

// Users is the part of the auth service the admin API drives.
type Users interface {
	ListUsers(ctx context.Context, limit, offset int) (*auth.UserPage, error)
	GetUser(ctx context.Context, id uuid.UUID) (*auth.Profile, error)
	UpdateUser(ctx context.Context, actor auth.Identity, id uuid.UUID, in auth.UpdateUserInput) (*auth.Profile, error)
	UnlockUser(ctx context.Context, actor auth.Identity, id uuid.UUID) (*auth.Profile, error)
	RevokeSessions(ctx context.Context, actor auth.Identity, id uuid.UUID) error
}

type AuditLog interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, int64, error)
}

type Handler struct {
	users Users
	audit AuditLog
	gate  *auth.AuthMiddleware
	log   *zap.Logger
}

func NewHandler(users Users, auditLog AuditLog, gate *auth.AuthMiddleware, log *zap.Logger) *Handler {
	return &Handler{
		users: users,
		audit: auditLog,
		gate:  gate,
		log:   log,
	}
}

// RegisterRoutes mounts the admin API under /admin. Every route requires an admin token.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route(api.AdminPrefix, func(r chi.Router) {
		r.Use(h.gate.RequireAdmin)

		r.Get(api.AdminUsers, h.ListUsers)
		r.Get(api.AdminUser, h.GetUser)
		r.Patch(api.AdminUser, h.UpdateUser)
		r.Post(api.AdminUnlockUser, h.UnlockUser)
		r.Post(api.AdminRevokeSessions, h.RevokeSessions)
		r.Get(api.AdminAudit, h.ListAudit)
	})
}

type auditPage struct {
	Entries []audit.Entry `json:"entries"`
	Total   int64         `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		auth.WriteServiceError(w, h.log, err)
		return
	}

	page, err := h.users.ListUsers(r.Context(), limit, offset)
	if err != nil {
		auth.WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, page, "")
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		auth.WriteServiceError(w, h.log, err)
		return
	}

	profile, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		auth.WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, profile, "")
}

type updateUserRequest struct {
	Disabled *bool   `json:"disabled"`
	Role     *string `json:"role"`
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		auth.WriteServiceError(w, h.log, err)
		return
	}

	in := auth.UpdateUserInput{Disabled: req.Disabled}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			auth.WriteServiceError(w, h.log, auth.NewValidationError("role", "must be one of user, admin"))
			return
		}
		in.Role = &role
	}

	profile, err := h.users.UpdateUser(r.Context(), actor, id, in)
	if err != nil {
		auth.WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, profile, "user updated")
}

func (h *Handler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}

	profile, err := h.users.UnlockUser(r.Context(), actor, id)
	if err != nil {
		auth.WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, profile, "user unlocked")
}

func (h *Handler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}

	if err := h.users.RevokeSessions(r.Context(), actor, id); err != nil {
		auth.WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, nil, "sessions revoked")
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		auth.WriteServiceError(w, h.log, err)
		return
	}

	filter := audit.Filter{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			auth.WriteServiceError(w, h.log, auth.NewValidationError("userId", "must be a valid id"))
			return
		}
		filter.UserID = &id
	}

	entries, total, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.log.Error("failed to list audit entries", zap.Error(err))
		api.WriteError(w, http.StatusServiceUnavailable, "audit log temporarily unavailable")
		return
	}

	if limit <= 0 {
		limit = audit.DefaultPageSize
	}
	api.WriteSuccess(w, http.StatusOK, auditPage{
		Entries: entries,
		Total:   total,
		Limit:   min(limit, audit.MaxPageSize),
		Offset:  offset,
	}, "")
}

func (h *Handler) actorAndTarget(w http.ResponseWriter, r *http.Request) (auth.Identity, uuid.UUID, bool) {
	actor, err := auth.IdentityFromContext(r.Context())
	if err != nil {
		auth.WriteServiceError(w, h.log, auth.ErrUnauthenticated)
		return auth.Identity{}, uuid.Nil, false
	}

	id, err := userID(r)
	if err != nil {
		auth.WriteServiceError(w, h.log, err)
		return auth.Identity{}, uuid.Nil, false
	}

	return actor, id, true
}

func userID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, auth.NewValidationError("id", "must be a valid id")
	}
	return id, nil
}

func pagination(r *http.Request) (int, int, error) {
	verr := &auth.ValidationError{}
	limit := queryInt(r, "limit", verr)
	offset := queryInt(r, "offset", verr)
	if len(verr.Fields) > 0 {
		return 0, 0, verr
	}
	return limit, offset, nil
}

func queryInt(r *http.Request, key string, verr *auth.ValidationError) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		verr.Add(key, "must be a non-negative integer")
		return 0
	}
	return n
}
