package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/elskow/shotlog/pkg/redact"
)

// Notifier delivers password reset tokens to their owners.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email string, token ResetToken) error
}

// LogNotifier writes the reset link to the log. It stands in for mail delivery.
type LogNotifier struct {
	logger  *zap.Logger
	linkFmt string
	reveal  bool
}

// NewLogNotifier builds links from linkFmt (one %s for the token). The token is
// only logged in clear when reveal is set.
func NewLogNotifier(logger *zap.Logger, linkFmt string, reveal bool) *LogNotifier {
	return &LogNotifier{logger: logger, linkFmt: linkFmt, reveal: reveal}
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, email string, token ResetToken) error {
	shown := redact.Token(token.Value)
	if n.reveal {
		shown = token.Value
	}

	n.logger.Info("password reset requested",
		zap.String("email", redact.Email(email)),
		zap.String("link", n.link(shown)),
		zap.Time("expires_at", token.ExpiresAt))
	return nil
}

func (n *LogNotifier) link(token string) string {
	if n.linkFmt == "" {
		return token
	}
	if strings.Contains(n.linkFmt, "%s") {
		return fmt.Sprintf(n.linkFmt, url.QueryEscape(token))
	}
	return n.linkFmt + url.QueryEscape(token)
}
