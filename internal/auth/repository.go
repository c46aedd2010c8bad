package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error)
	// RegisterFailedLogin increments the failed counter and starts a lockout once it
	// reaches maxAttempts. It returns the lockout end when one is (or already was) in force.
	RegisterFailedLogin(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration, now time.Time) (*time.Time, error)
	// RecordSuccessfulLogin resets the counter and stamps last_login_at. It fails with
	// ErrAccountLocked if a lockout fired in the meantime.
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, now time.Time) error
	// UpdatePassword replaces the hash and clears any lockout.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, firstName, lastName string) error
	SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error
	SetRole(ctx context.Context, id uuid.UUID, role Role) error
	Unlock(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateUser(ctx context.Context, user *User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return storeError("create user", err)
	}
	return nil
}

func (r *repository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeError("get user by id", err)
	}
	return &user, nil
}

func (r *repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeError("get user by email", err)
	}
	return &user, nil
}

func (r *repository) ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&User{}).Count(&total).Error; err != nil {
		return nil, 0, storeError("count users", err)
	}

	var users []User
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	if err != nil {
		return nil, 0, storeError("list users", err)
	}

	return users, total, nil
}

func (r *repository) RegisterFailedLogin(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration, now time.Time) (*time.Time, error) {
	var lockedUntil *time.Time

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "failed_login_count", "lockout_until").
			Where("id = ?", id).
			First(&user).Error
		if err != nil {
			return err
		}

		if user.IsLocked(now) {
			lockedUntil = user.LockoutUntil
			return nil
		}

		failed := user.FailedLoginCount + 1
		updates := map[string]any{"failed_login_count": failed}
		if failed >= maxAttempts {
			until := now.Add(lockFor)
			updates["failed_login_count"] = 0
			updates["lockout_until"] = until
			lockedUntil = &until
		}

		return tx.Model(&User{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeError("register failed login", err)
	}

	return lockedUntil, nil
}

func (r *repository) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND (lockout_until IS NULL OR lockout_until <= ?)", id, now).
		Updates(map[string]any{
			"failed_login_count": 0,
			"lockout_until":      nil,
			"last_login_at":      now,
		})
	if result.Error != nil {
		return storeError("record successful login", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountLocked
	}
	return nil
}

func (r *repository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.update(ctx, "update password", id, map[string]any{
		"password_hash":      hash,
		"failed_login_count": 0,
		"lockout_until":      nil,
	})
}

func (r *repository) UpdateProfile(ctx context.Context, id uuid.UUID, firstName, lastName string) error {
	return r.update(ctx, "update profile", id, map[string]any{
		"first_name": firstName,
		"last_name":  lastName,
	})
}

func (r *repository) SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error {
	return r.update(ctx, "set disabled", id, map[string]any{"disabled": disabled})
}

func (r *repository) SetRole(ctx context.Context, id uuid.UUID, role Role) error {
	return r.update(ctx, "set role", id, map[string]any{"role": role})
}

func (r *repository) Unlock(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, "unlock", id, map[string]any{
		"failed_login_count": 0,
		"lockout_until":      nil,
	})
}

func (r *repository) update(ctx context.Context, op string, id uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return storeError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
