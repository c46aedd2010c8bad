package auth

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/api"
	"github.com/elskow/shotlog/internal/config"
	"github.com/elskow/shotlog/internal/observability"
)

const forgotPasswordMessage = "If the email is registered, a password reset link has been sent"

type Handler struct {
	service *Service
	gate    *AuthMiddleware
	limiter *RateLimiter
	limits  config.RateLimitConfig
	log     *zap.Logger
}

func NewHandler(service *Service, gate *AuthMiddleware, limiter *RateLimiter, limits config.RateLimitConfig, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		gate:    gate,
		limiter: limiter,
		limits:  limits,
		log:     log,
	}
}

// RegisterRoutes mounts the public auth endpoints and the bearer-protected profile endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	limit := func(scope string, max int) func(http.Handler) http.Handler {
		if h.limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return h.limiter.Limit(scope, max)
	}

	r.With(limit(ScopeRegister, h.limits.Register)).Post(api.AuthRegister, h.Register)
	r.With(limit(ScopeLogin, h.limits.Login)).Post(api.AuthLogin, h.Login)
	r.Post(api.AuthRefresh, h.Refresh)
	r.Post(api.AuthLogout, h.Logout)
	r.With(limit(ScopeForgotPassword, h.limits.ForgotPassword)).Post(api.AuthForgotPassword, h.ForgotPassword)
	r.With(limit(ScopeResetPassword, h.limits.ResetPassword)).Post(api.AuthResetPassword, h.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAuth)
		r.Get(api.UsersProfile, h.GetProfile)
		r.Put(api.UsersProfile, h.UpdateProfile)
		r.Put(api.UsersPassword, h.ChangePassword)
	})
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	profile, err := h.service.Register(r.Context(), RegisterInput(req))
	if err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusCreated, profile, "registration successful")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, result, "")
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}
	if req.RefreshToken == "" {
		WriteServiceError(w, h.log, NewValidationError("refreshToken", "is required"))
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, pair, "")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}
	if req.RefreshToken == "" {
		WriteServiceError(w, h.log, NewValidationError("refreshToken", "is required"))
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, nil, "logged out")
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, nil, forgotPasswordMessage)
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, nil, "password has been reset")
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := IdentityFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, h.log, ErrUnauthenticated)
		return
	}

	profile, err := h.service.GetProfile(r.Context(), id.UserID)
	if err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, profile, "")
}

type updateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := IdentityFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, h.log, ErrUnauthenticated)
		return
	}

	var req updateProfileRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), id.UserID, UpdateProfileInput(req))
	if err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, profile, "profile updated")
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := IdentityFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, h.log, ErrUnauthenticated)
		return
	}

	var req changePasswordRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	err = h.service.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		WriteServiceError(w, h.log, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, nil, "password changed, please log in again")
}

// WriteServiceError maps an error from this package onto the response envelope.
func WriteServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		verr   *ValidationError
		locked *LockedError
	)

	switch {
	case errors.As(err, &verr):
		api.WriteValidation(w, "validation failed", verr.Fields)
	case errors.Is(err, api.ErrInvalidBody):
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
	case errors.As(err, &locked):
		seconds := int(math.Ceil(time.Until(locked.Until).Seconds()))
		api.WriteRetryAfter(w, http.StatusLocked, seconds, ErrAccountLocked.Error())
	case errors.Is(err, ErrAccountLocked):
		api.WriteError(w, http.StatusLocked, ErrAccountLocked.Error())
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrUnauthenticated):
		api.WriteError(w, http.StatusUnauthorized, publicMessage(err))
	case errors.Is(err, ErrInvalidResetToken):
		api.WriteError(w, http.StatusBadRequest, ErrInvalidResetToken.Error())
	case errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrSelfModification):
		api.WriteError(w, http.StatusForbidden, publicMessage(err))
	case errors.Is(err, ErrConflict):
		api.WriteError(w, http.StatusConflict, ErrConflict.Error())
	case errors.Is(err, ErrUserNotFound):
		api.WriteError(w, http.StatusNotFound, ErrUserNotFound.Error())
	case errors.Is(err, ErrTransientStore):
		log.Warn("storage unavailable", zap.Error(err))
		api.WriteError(w, http.StatusServiceUnavailable, "service temporarily unavailable, please retry")
	default:
		log.Error("unexpected error", zap.Error(err))
		observability.CaptureError(err)
		api.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// publicMessage returns the sentinel text so wrapped details never reach clients.
func publicMessage(err error) string {
	for _, sentinel := range []error{
		ErrInvalidCredentials,
		ErrInvalidRefreshToken,
		ErrUnauthenticated,
		ErrAccountDisabled,
		ErrSelfModification,
		ErrForbidden,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "request failed"
}
