package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

type User struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email            string    `gorm:"not null"`
	PasswordHash     string    `gorm:"not null"`
	FirstName        string    `gorm:"not null;default:''"`
	LastName         string    `gorm:"not null;default:''"`
	Role             Role      `gorm:"type:varchar(16);not null;default:user"`
	Disabled         bool      `gorm:"not null;default:false"`
	FailedLoginCount int       `gorm:"not null;default:0"`
	LockoutUntil     *time.Time
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (User) TableName() string {
	return "users"
}

// IsLocked reports whether a lockout is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockoutUntil != nil && now.Before(*u.LockoutUntil)
}

// Profile is the public view of a user.
type Profile struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"firstName,omitempty"`
	LastName     string     `json:"lastName,omitempty"`
	Role         Role       `json:"role"`
	IsAdmin      bool       `json:"isAdmin"`
	Disabled     bool       `json:"disabled"`
	LockoutUntil *time.Time `json:"lockoutUntil,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Role:         u.Role,
		IsAdmin:      u.Role.IsAdmin(),
		Disabled:     u.Disabled,
		LockoutUntil: u.LockoutUntil,
		CreatedAt:    u.CreatedAt,
		LastLoginAt:  u.LastLoginAt,
	}
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresIn        int64     `json:"expiresIn"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type LoginResult struct {
	TokenPair
	User Profile `json:"user"`
}
