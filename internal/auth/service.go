package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/audit"
	"github.com/elskow/shotlog/internal/config"
	"github.com/elskow/shotlog/pkg/redact"
)

const (
	maxEmailLength  = 254
	maxNameLength   = 100
	retryBackoff    = 50 * time.Millisecond
	tokenTypeBearer = "Bearer"
)

// Auditor appends security events. Implementations must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// EventRecorder counts auth events for metrics.
type EventRecorder interface {
	AuthEvent(event, outcome string)
}

type nopEventRecorder struct{}

func (nopEventRecorder) AuthEvent(string, string) {}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, audit.Entry) {}

type Deps struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Users    Repository
	Signer   *TokenSigner
	Refresh  RefreshLedger
	Reset    ResetLedger
	Hasher   *Hasher
	Notifier Notifier
	Auditor  Auditor
	Metrics  EventRecorder
}

type Service struct {
	log      *zap.Logger
	users    Repository
	signer   *TokenSigner
	refresh  RefreshLedger
	reset    ResetLedger
	hasher   *Hasher
	policy   PasswordPolicy
	notifier Notifier
	auditor  Auditor
	metrics  EventRecorder

	maxAttempts      int
	lockoutDuration  time.Duration
	revokeAllOnReuse bool
	storeTimeout     time.Duration
	now              func() time.Time
}

func NewService(deps Deps) *Service {
	cfg := deps.Config

	s := &Service{
		log:              deps.Logger,
		users:            deps.Users,
		signer:           deps.Signer,
		refresh:          deps.Refresh,
		reset:            deps.Reset,
		hasher:           deps.Hasher,
		policy:           NewPasswordPolicy(&cfg.Password),
		notifier:         deps.Notifier,
		auditor:          deps.Auditor,
		metrics:          deps.Metrics,
		maxAttempts:      cfg.Lockout.MaxAttempts,
		lockoutDuration:  cfg.Lockout.Duration,
		revokeAllOnReuse: cfg.Auth.RevokeAllOnReuse,
		storeTimeout:     cfg.Auth.StoreTimeout,
		now:              time.Now,
	}
	if s.hasher == nil {
		s.hasher = NewHasher(cfg.Auth.BcryptCost)
	}
	if s.auditor == nil {
		s.auditor = nopAuditor{}
	}
	if s.metrics == nil {
		s.metrics = nopEventRecorder{}
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.log, cfg.Auth.ResetURL, false)
	}
	return s
}

func (s *Service) PasswordPolicy() PasswordPolicy {
	return s.policy
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Profile, error) {
	email := NormalizeEmail(in.Email)
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)

	verr := &ValidationError{}
	validateEmail(verr, "email", email)
	mergeValidation(verr, s.policy.Validate("password", in.Password))
	validateName(verr, "firstName", firstName)
	validateName(verr, "lastName", lastName)
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         RoleUser,
	}

	err = s.store(ctx, false, func(ctx context.Context) error {
		return s.users.CreateUser(ctx, user)
	})
	if err != nil {
		s.metrics.AuthEvent("register", "failure")
		return nil, err
	}

	s.metrics.AuthEvent("register", "success")
	s.record(ctx, audit.ActionRegister, &user.ID, &user.ID, "")
	s.log.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("email", redact.Email(email)))

	profile := user.Profile()
	return &profile, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	verr := &ValidationError{}
	if email == "" {
		verr.Add("email", "is required")
	}
	if password == "" {
		verr.Add("password", "is required")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.CompareDummy(password)
			s.metrics.AuthEvent("login", "failure")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.now()
	// Checked before the password so a locked account cannot be brute-forced.
	if user.IsLocked(now) {
		s.metrics.AuthEvent("login", "locked")
		return nil, &LockedError{Until: *user.LockoutUntil}
	}

	if !s.hasher.Compare(user.PasswordHash, password) {
		return nil, s.failedLogin(ctx, user, now)
	}

	if user.Disabled {
		s.metrics.AuthEvent("login", "disabled")
		return nil, ErrAccountDisabled
	}

	err = s.store(ctx, true, func(ctx context.Context) error {
		return s.users.RecordSuccessfulLogin(ctx, user.ID, now)
	})
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			s.metrics.AuthEvent("login", "locked")
			return nil, s.lockedError(ctx, user.ID, now)
		}
		return nil, err
	}
	user.FailedLoginCount = 0
	user.LockoutUntil = nil
	user.LastLoginAt = &now

	pair, err := s.issuePair(ctx, user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	s.metrics.AuthEvent("login", "success")
	s.record(ctx, audit.ActionLoginSuccess, &user.ID, &user.ID, "")

	return &LoginResult{TokenPair: *pair, User: user.Profile()}, nil
}

// failedLogin counts a wrong password. A mismatch always reports
// ErrInvalidCredentials; the lockout it may start shows from the next attempt on.
func (s *Service) failedLogin(ctx context.Context, user *User, now time.Time) error {
	s.metrics.AuthEvent("login", "failure")
	s.record(ctx, audit.ActionLoginFailure, nil, &user.ID, "")

	var lockedUntil *time.Time
	err := s.store(ctx, false, func(ctx context.Context) error {
		var err error
		lockedUntil, err = s.users.RegisterFailedLogin(ctx, user.ID, s.maxAttempts, s.lockoutDuration, now)
		return err
	})
	if err != nil {
		s.log.Error("failed to register failed login",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
		return ErrInvalidCredentials
	}

	if lockedUntil != nil {
		s.record(ctx, audit.ActionAccountLocked, nil, &user.ID, lockedUntil.UTC().Format(time.RFC3339))
		s.log.Warn("account locked after repeated failures",
			zap.String("user_id", user.ID.String()),
			zap.Time("until", *lockedUntil))
	}
	return ErrInvalidCredentials
}

func (s *Service) lockedError(ctx context.Context, id uuid.UUID, now time.Time) error {
	user, err := s.userByID(ctx, id)
	if err == nil && user.LockoutUntil != nil {
		return &LockedError{Until: *user.LockoutUntil}
	}
	return &LockedError{Until: now.Add(s.lockoutDuration)}
}

func (s *Service) Refresh(ctx context.Context, token string) (*TokenPair, error) {
	if token == "" {
		return nil, ErrInvalidRefreshToken
	}

	var (
		next   RefreshToken
		userID uuid.UUID
	)
	err := s.store(ctx, false, func(ctx context.Context) error {
		var err error
		next, userID, err = s.refresh.Rotate(ctx, token)
		return err
	})
	if err != nil {
		var reused *ReusedTokenError
		if errors.As(err, &reused) {
			s.handleReuse(ctx, reused.UserID)
			return nil, ErrInvalidRefreshToken
		}
		if errors.Is(err, ErrInvalidRefreshToken) {
			s.metrics.AuthEvent("refresh", "failure")
		}
		return nil, err
	}

	user, err := s.userByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.revokeQuietly(ctx, next.Value)
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	if user.Disabled {
		s.revokeQuietly(ctx, next.Value)
		s.metrics.AuthEvent("refresh", "disabled")
		return nil, ErrAccountDisabled
	}

	access, _, err := s.signer.Issue(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	s.metrics.AuthEvent("refresh", "success")
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     next.Value,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        int64(s.signer.TTL() / time.Second),
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

func (s *Service) handleReuse(ctx context.Context, userID uuid.UUID) {
	s.metrics.AuthEvent("refresh", "reuse")
	s.record(ctx, audit.ActionRefreshReuse, nil, &userID, "")
	s.log.Warn("rotated refresh token presented again",
		zap.String("user_id", userID.String()),
		zap.Bool("revoke_all", s.revokeAllOnReuse))

	if !s.revokeAllOnReuse {
		return
	}
	err := s.store(ctx, true, func(ctx context.Context) error {
		return s.refresh.RevokeAll(ctx, userID)
	})
	if err != nil {
		s.log.Error("failed to revoke sessions after token reuse",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func (s *Service) revokeQuietly(ctx context.Context, token string) {
	err := s.store(ctx, true, func(ctx context.Context) error {
		_, err := s.refresh.Revoke(ctx, token)
		return err
	})
	if err != nil {
		s.log.Error("failed to revoke refresh token", zap.Error(err))
	}
}

// Logout revokes token. Unknown and already revoked tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	var owner uuid.UUID
	err := s.store(ctx, true, func(ctx context.Context) error {
		var err error
		owner, err = s.refresh.Revoke(ctx, token)
		return err
	})
	if err != nil {
		return err
	}

	s.metrics.AuthEvent("logout", "success")
	if owner != uuid.Nil {
		s.record(ctx, audit.ActionLogout, &owner, &owner, "")
	}
	return nil
}

// ForgotPassword succeeds for unknown emails too.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	verr := &ValidationError{}
	validateEmail(verr, "email", email)
	if err := verr.orNil(); err != nil {
		return err
	}

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.metrics.AuthEvent("forgot_password", "unknown")
			return nil
		}
		return err
	}
	if user.Disabled {
		s.metrics.AuthEvent("forgot_password", "disabled")
		return nil
	}

	var token ResetToken
	err = s.store(ctx, false, func(ctx context.Context) error {
		var err error
		token, err = s.reset.Create(ctx, user.ID)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, token); err != nil {
		s.log.Error("failed to deliver password reset",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
	}

	s.metrics.AuthEvent("forgot_password", "success")
	s.record(ctx, audit.ActionResetRequested, &user.ID, &user.ID, "")
	return nil
}

// ResetPassword checks the new password before consuming the token, so a
// rejected password does not burn the token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword, confirmPassword string) error {
	if token == "" {
		return ErrInvalidResetToken
	}
	if err := s.validateNewPassword(newPassword, confirmPassword); err != nil {
		return err
	}

	var userID uuid.UUID
	err := s.store(ctx, false, func(ctx context.Context) error {
		var err error
		userID, err = s.reset.Consume(ctx, token)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			s.metrics.AuthEvent("reset_password", "failure")
		}
		return err
	}

	if err := s.setPassword(ctx, userID, newPassword); err != nil {
		// The token is already spent; the user has to request a new one.
		s.log.Warn("reset token consumed but password update failed",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}

	s.metrics.AuthEvent("reset_password", "success")
	s.record(ctx, audit.ActionResetCompleted, &userID, &userID, "")
	return nil
}

func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	user, err := s.userByID(ctx, id)
	if err != nil {
		return nil, err
	}
	profile := user.Profile()
	return &profile, nil
}

type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in UpdateProfileInput) (*Profile, error) {
	user, err := s.userByID(ctx, id)
	if err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
		validateName(verr, "firstName", user.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
		validateName(verr, "lastName", user.LastName)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	err = s.store(ctx, true, func(ctx context.Context) error {
		return s.users.UpdateProfile(ctx, id, user.FirstName, user.LastName)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.ActionProfileUpdated, &id, &id, "")
	profile := user.Profile()
	return &profile, nil
}

// ChangePassword verifies the current password, stores the new one and ends every session.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword, confirmPassword string) error {
	if currentPassword == "" {
		return NewValidationError("currentPassword", "is required")
	}
	if err := s.validateNewPassword(newPassword, confirmPassword); err != nil {
		return err
	}

	user, err := s.userByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(user.PasswordHash, currentPassword) {
		s.metrics.AuthEvent("change_password", "failure")
		return ErrInvalidCredentials
	}

	if err := s.setPassword(ctx, id, newPassword); err != nil {
		return err
	}

	s.metrics.AuthEvent("change_password", "success")
	s.record(ctx, audit.ActionPasswordChanged, &id, &id, "")
	return nil
}

func (s *Service) validateNewPassword(newPassword, confirmPassword string) error {
	verr := &ValidationError{}
	mergeValidation(verr, s.policy.Validate("newPassword", newPassword))
	if newPassword != confirmPassword {
		verr.Add("confirmPassword", "does not match")
	}
	return verr.orNil()
}

// setPassword stores a new hash, clears the lockout and revokes all refresh tokens.
func (s *Service) setPassword(ctx context.Context, id uuid.UUID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	err = s.store(ctx, true, func(ctx context.Context) error {
		return s.users.UpdatePassword(ctx, id, hash)
	})
	if err != nil {
		return err
	}

	return s.store(ctx, true, func(ctx context.Context) error {
		return s.refresh.RevokeAll(ctx, id)
	})
}

func (s *Service) issuePair(ctx context.Context, userID uuid.UUID, role Role) (*TokenPair, error) {
	access, _, err := s.signer.Issue(userID, role)
	if err != nil {
		return nil, err
	}

	var refresh RefreshToken
	err = s.store(ctx, false, func(ctx context.Context) error {
		var err error
		refresh, err = s.refresh.Create(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh.Value,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        int64(s.signer.TTL() / time.Second),
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *Service) userByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var user *User
	err := s.store(ctx, true, func(ctx context.Context) error {
		var err error
		user, err = s.users.GetUserByID(ctx, id)
		return err
	})
	return user, err
}

func (s *Service) userByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := s.store(ctx, true, func(ctx context.Context) error {
		var err error
		user, err = s.users.GetUserByEmail(ctx, email)
		return err
	})
	return user, err
}

// store runs fn under the store timeout. Idempotent calls are retried once on a
// transient failure while the caller is still waiting.
func (s *Service) store(ctx context.Context, idempotent bool, fn func(context.Context) error) error {
	err := s.storeOnce(ctx, fn)
	if err == nil || !idempotent || !errors.Is(err, ErrTransientStore) {
		return err
	}

	select {
	case <-ctx.Done():
		return err
	case <-time.After(retryBackoff):
	}

	s.log.Debug("retrying store call after transient failure", zap.Error(err))
	return s.storeOnce(ctx, fn)
}

func (s *Service) storeOnce(ctx context.Context, fn func(context.Context) error) error {
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}

	err := fn(ctx)
	if err != nil && !errors.Is(err, ErrTransientStore) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return storeError("store call", err)
	}
	return err
}

func (s *Service) record(ctx context.Context, action audit.Action, actor, target *uuid.UUID, detail string) {
	s.auditor.Record(ctx, audit.Entry{
		ActorID:  actor,
		TargetID: target,
		Action:   action,
		Detail:   detail,
	})
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(verr *ValidationError, field, email string) {
	if email == "" {
		verr.Add(field, "is required")
		return
	}
	if len(email) > maxEmailLength {
		verr.Add(field, "is too long")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		verr.Add(field, "must be a valid email address")
	}
}

func validateName(verr *ValidationError, field, name string) {
	if len([]rune(name)) > maxNameLength {
		verr.Add(field, "must be at most 100 characters")
	}
}

func mergeValidation(dst *ValidationError, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		for field, msg := range verr.Fields {
			dst.Add(field, msg)
		}
	}
}
