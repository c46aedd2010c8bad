package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := DefaultPasswordPolicy()

	tests := []struct {
		name     string
		policy   PasswordPolicy
		password string
		wantMsg  string
	}{
		{name: "valid", policy: policy, password: "Passw0rd!"},
		{name: "valid without special", policy: policy, password: "Passw0rdd"},
		{name: "too short", policy: policy, password: "Pa0rd", wantMsg: "must be at least 8 characters"},
		{name: "no upper", policy: policy, password: "passw0rd!", wantMsg: "must contain an uppercase letter"},
		{name: "no lower", policy: policy, password: "PASSW0RD!", wantMsg: "must contain a lowercase letter"},
		{name: "no digit", policy: policy, password: "Password!", wantMsg: "must contain a digit"},
		{name: "too long for bcrypt", policy: policy, password: "Aa1" + strings.Repeat("x", 70), wantMsg: "must be at most 72 bytes"},
		{
			name:     "special required",
			policy:   PasswordPolicy{MinLength: 4, RequireSpecial: true},
			password: "abcd1",
			wantMsg:  "must contain a special character",
		},
		{
			name:     "relaxed policy",
			policy:   PasswordPolicy{MinLength: 4},
			password: "abcd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate("password", tt.password)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantMsg, verr.Fields["password"])
		})
	}
}

func TestHasher(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash("Passw0rd!")
	require.NoError(t, err)
	assert.NotEqual(t, "Passw0rd!", hash)

	assert.True(t, h.Compare(hash, "Passw0rd!"))
	assert.False(t, h.Compare(hash, "passw0rd!"))
	assert.False(t, h.Compare("not-a-hash", "Passw0rd!"))

	// Must not panic and must not match anything.
	h.CompareDummy("Passw0rd!")
}

func TestNewHasher_ClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(99).cost)
	assert.Equal(t, 12, NewHasher(12).cost)
}
