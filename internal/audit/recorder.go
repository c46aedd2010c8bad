package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type ipKey struct{}

// WithIP stores the caller's address so entries recorded deeper in the call stack carry it.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func IPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}

// Recorder appends audit entries. Failures are logged and never reach the caller.
type Recorder struct {
	repo    Repository
	logger  *zap.Logger
	timeout time.Duration
}

func NewRecorder(repo Repository, logger *zap.Logger, timeout time.Duration) *Recorder {
	return &Recorder{repo: repo, logger: logger, timeout: timeout}
}

func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.IP == "" {
		entry.IP = IPFromContext(ctx)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	// The entry must outlive a cancelled request.
	ctx = context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.repo.Create(ctx, &entry); err != nil {
		r.logger.Error("failed to record audit entry",
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}

// List returns a page of entries, newest first, clamping the page size.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]Entry, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultPageSize
	}
	if filter.Limit > MaxPageSize {
		filter.Limit = MaxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return r.repo.List(ctx, filter)
}
