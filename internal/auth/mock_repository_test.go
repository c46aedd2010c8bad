package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockRepository struct {
	users map[uuid.UUID]*User
	mu    sync.RWMutex
	// failWith, when set, is returned by every call.
	failWith error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users: make(map[uuid.UUID]*User),
	}
}

func (r *mockRepository) CreateUser(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}

	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrConflict
		}
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	// Clone the user to prevent external modifications
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *mockRepository) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failWith != nil {
		return nil, r.failWith
	}

	user, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *mockRepository) GetUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failWith != nil {
		return nil, r.failWith
	}

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *mockRepository) ListUsers(_ context.Context, limit, offset int) ([]User, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failWith != nil {
		return nil, 0, r.failWith
	}

	all := make([]User, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })

	total := int64(len(all))
	if offset >= len(all) {
		return []User{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *mockRepository) RegisterFailedLogin(_ context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration, now time.Time) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}

	user, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	if user.IsLocked(now) {
		return user.LockoutUntil, nil
	}

	user.FailedLoginCount++
	if user.FailedLoginCount >= maxAttempts {
		until := now.Add(lockFor)
		user.LockoutUntil = &until
		user.FailedLoginCount = 0
		return &until, nil
	}
	return nil, nil
}

func (r *mockRepository) RecordSuccessfulLogin(_ context.Context, id uuid.UUID, now time.Time) error {
	return r.mutate(id, func(u *User) error {
		if u.IsLocked(now) {
			return ErrAccountLocked
		}
		u.FailedLoginCount = 0
		u.LockoutUntil = nil
		u.LastLoginAt = &now
		return nil
	})
}

func (r *mockRepository) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return r.mutate(id, func(u *User) error {
		u.PasswordHash = hash
		u.FailedLoginCount = 0
		u.LockoutUntil = nil
		return nil
	})
}

func (r *mockRepository) UpdateProfile(_ context.Context, id uuid.UUID, firstName, lastName string) error {
	return r.mutate(id, func(u *User) error {
		u.FirstName = firstName
		u.LastName = lastName
		return nil
	})
}

func (r *mockRepository) SetDisabled(_ context.Context, id uuid.UUID, disabled bool) error {
	return r.mutate(id, func(u *User) error {
		u.Disabled = disabled
		return nil
	})
}

func (r *mockRepository) SetRole(_ context.Context, id uuid.UUID, role Role) error {
	return r.mutate(id, func(u *User) error {
		u.Role = role
		return nil
	})
}

func (r *mockRepository) Unlock(_ context.Context, id uuid.UUID) error {
	return r.mutate(id, func(u *User) error {
		u.FailedLoginCount = 0
		u.LockoutUntil = nil
		return nil
	})
}

func (r *mockRepository) mutate(id uuid.UUID, fn func(*User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}

	user, exists := r.users[id]
	if !exists {
		return ErrUserNotFound
	}
	if err := fn(user); err != nil {
		return err
	}
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *mockRepository) setFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}
