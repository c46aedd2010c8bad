package auth

import (
	"fmt"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/shotlog/internal/config"
)

// bcrypt ignores everything past 72 bytes.
const bcryptMaxBytes = 72

type PasswordPolicy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

func NewPasswordPolicy(cfg *config.PasswordPolicyConfig) PasswordPolicy {
	return PasswordPolicy{
		MinLength:      cfg.MinLength,
		MaxLength:      cfg.MaxLength,
		RequireUpper:   cfg.RequireUpper,
		RequireLower:   cfg.RequireLower,
		RequireDigit:   cfg.RequireDigit,
		RequireSpecial: cfg.RequireSpecial,
	}
}

// DefaultPasswordPolicy is length >= 8 with upper, lower and digit.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:    8,
		MaxLength:    bcryptMaxBytes,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Validate returns a *ValidationError keyed by field, or nil.
func (p PasswordPolicy) Validate(field, password string) error {
	maxLength := p.MaxLength
	if maxLength <= 0 || maxLength > bcryptMaxBytes {
		maxLength = bcryptMaxBytes
	}

	if len([]rune(password)) < p.MinLength {
		return NewValidationError(field, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if len(password) > maxLength {
		return NewValidationError(field, fmt.Sprintf("must be at most %d bytes", maxLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	switch {
	case p.RequireUpper && !hasUpper:
		return NewValidationError(field, "must contain an uppercase letter")
	case p.RequireLower && !hasLower:
		return NewValidationError(field, "must contain a lowercase letter")
	case p.RequireDigit && !hasDigit:
		return NewValidationError(field, "must contain a digit")
	case p.RequireSpecial && !hasSpecial:
		return NewValidationError(field, "must contain a special character")
	}
	return nil
}

type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

func (h *Hasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CompareDummy burns the same time as a real comparison so unknown emails
// cannot be told apart from wrong passwords by latency.
func (h *Hasher) CompareDummy(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("shotlog-dummy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
