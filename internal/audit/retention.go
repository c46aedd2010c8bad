package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pruner removes audit entries older than the retention period.
type Pruner struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	cancel context.CancelFunc
	done   sync.WaitGroup
}

func NewPruner(repo Repository, retention, interval time.Duration, logger *zap.Logger) *Pruner {
	return &Pruner{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *Pruner) Enabled() bool {
	return p.retention > 0 && p.interval > 0
}

// PruneOnce deletes every entry created before now minus the retention period.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().UTC().Add(-p.retention)
	removed, err := p.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		p.logger.Info("pruned audit entries",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Start runs PruneOnce on every tick until Stop is called.
func (p *Pruner) Start() {
	if !p.Enabled() {
		p.logger.Info("audit retention disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done.Add(1)

	go func() {
		defer p.done.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			if _, err := p.PruneOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("failed to prune audit entries", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (p *Pruner) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.done.Wait()
}
