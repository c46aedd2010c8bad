package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "alice@example.com", want: "al***@example.com"},
		{in: "al@example.com", want: "***@example.com"},
		{in: "not-an-email", want: "***"},
		{in: "trailing@", want: "***"},
		{in: "", want: "***"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Email(tt.in))
		})
	}
}

func TestToken(t *testing.T) {
	assert.Equal(t, "[REDACTED_TOKEN]", Token("short"))
	assert.Equal(t, "abcd…[REDACTED_TOKEN]", Token("abcdefghijklmnop"))
	assert.NotContains(t, Token("abcdefghijklmnop"), "efgh")
}
