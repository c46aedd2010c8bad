package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/audit"
	"github.com/elskow/shotlog/pkg/redact"
)

const (
	DefaultUserPageSize = 50
	MaxUserPageSize     = 200
)

// ErrSelfModification is returned when an administrator tries to disable or demote themself.
var ErrSelfModification = errors.New("administrators cannot disable or demote their own account")

type UserPage struct {
	Users  []Profile `json:"users"`
	Total  int64     `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) (*UserPage, error) {
	if limit <= 0 {
		limit = DefaultUserPageSize
	}
	if limit > MaxUserPageSize {
		limit = MaxUserPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var (
		users []User
		total int64
	)
	err := s.store(ctx, true, func(ctx context.Context) error {
		var err error
		users, total, err = s.users.ListUsers(ctx, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0, len(users))
	for i := range users {
		profiles = append(profiles, users[i].Profile())
	}

	return &UserPage{Users: profiles, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.GetProfile(ctx, id)
}

// UpdateUserInput carries the admin-editable fields. Nil fields are left unchanged.
type UpdateUserInput struct {
	Disabled *bool
	Role     *Role
}

func (s *Service) UpdateUser(ctx context.Context, actor Identity, id uuid.UUID, in UpdateUserInput) (*Profile, error) {
	if in.Disabled == nil && in.Role == nil {
		return nil, NewValidationError("body", "nothing to update")
	}
	if actor.UserID == id {
		if (in.Disabled != nil && *in.Disabled) || (in.Role != nil && *in.Role != RoleAdmin) {
			return nil, ErrSelfModification
		}
	}

	user, err := s.userByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Role != nil && *in.Role != user.Role {
		role := *in.Role
		err := s.store(ctx, true, func(ctx context.Context) error {
			return s.users.SetRole(ctx, id, role)
		})
		if err != nil {
			return nil, err
		}
		user.Role = role
		s.record(ctx, audit.ActionAdminRoleChanged, &actor.UserID, &id, string(role))
	}

	if in.Disabled != nil && *in.Disabled != user.Disabled {
		disabled := *in.Disabled
		err := s.store(ctx, true, func(ctx context.Context) error {
			return s.users.SetDisabled(ctx, id, disabled)
		})
		if err != nil {
			return nil, err
		}
		user.Disabled = disabled

		if disabled {
			err := s.store(ctx, true, func(ctx context.Context) error {
				return s.refresh.RevokeAll(ctx, id)
			})
			if err != nil {
				return nil, err
			}
			s.record(ctx, audit.ActionAdminUserDisabled, &actor.UserID, &id, "")
		} else {
			s.record(ctx, audit.ActionAdminUserEnabled, &actor.UserID, &id, "")
		}
	}

	profile := user.Profile()
	return &profile, nil
}

func (s *Service) UnlockUser(ctx context.Context, actor Identity, id uuid.UUID) (*Profile, error) {
	err := s.store(ctx, true, func(ctx context.Context) error {
		return s.users.Unlock(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.ActionAdminUserUnlocked, &actor.UserID, &id, "")
	return s.GetProfile(ctx, id)
}

func (s *Service) RevokeSessions(ctx context.Context, actor Identity, id uuid.UUID) error {
	if _, err := s.userByID(ctx, id); err != nil {
		return err
	}

	err := s.store(ctx, true, func(ctx context.Context) error {
		return s.refresh.RevokeAll(ctx, id)
	})
	if err != nil {
		return err
	}

	s.record(ctx, audit.ActionAdminSessionsRevoked, &actor.UserID, &id, "")
	return nil
}

// BootstrapAdmin creates the initial administrator unless a user with that
// email already exists. Existing users are left untouched.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}

	verr := &ValidationError{}
	validateEmail(verr, "bootstrap.admin_email", email)
	mergeValidation(verr, s.policy.Validate("bootstrap.admin_password", password))
	if err := verr.orNil(); err != nil {
		return err
	}

	_, err := s.userByEmail(ctx, email)
	if err == nil {
		s.log.Debug("bootstrap admin already present", zap.String("email", redact.Email(email)))
		return nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	user := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         RoleAdmin,
	}
	err = s.store(ctx, false, func(ctx context.Context) error {
		return s.users.CreateUser(ctx, user)
	})
	if err != nil {
		// Another instance won the race.
		if errors.Is(err, ErrConflict) {
			return nil
		}
		return err
	}

	s.record(ctx, audit.ActionAdminBootstrapped, nil, &user.ID, "")
	s.log.Info("bootstrap admin created", zap.String("email", redact.Email(email)))
	return nil
}
