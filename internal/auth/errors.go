package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountLocked       = errors.New("account is temporarily locked")
	ErrAccountDisabled     = errors.New("account is disabled")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidResetToken   = errors.New("invalid or expired reset token")
	ErrUnauthenticated     = errors.New("authentication required")
	ErrForbidden           = errors.New("insufficient permissions")
	ErrConflict            = errors.New("email already registered")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidToken        = errors.New("invalid token")
	// ErrTransientStore is matched by every StoreError.
	ErrTransientStore = errors.New("storage temporarily unavailable")
)

// ValidationError reports malformed input per field.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// orNil keeps a typed nil *ValidationError from turning into a non-nil error.
func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// LockedError carries the end of an active lockout.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return ErrAccountLocked.Error()
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// StoreError wraps a database or cache failure (timeout, connectivity, driver error).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrTransientStore
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// ReusedTokenError signals that an already rotated or revoked refresh token was presented.
type ReusedTokenError struct {
	UserID uuid.UUID
}

func (e *ReusedTokenError) Error() string {
	return ErrInvalidRefreshToken.Error()
}

func (e *ReusedTokenError) Is(target error) bool {
	return target == ErrInvalidRefreshToken
}
