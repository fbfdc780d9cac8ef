package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes client events older than the retention period on a cron
// schedule.
type Pruner struct {
	mu sync.Mutex

	repo      Repository
	schedule  cron.Schedule
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPruner creates a pruner for a 5-field cron expression.
func NewPruner(repo Repository, spec string, retention time.Duration, logger *slog.Logger) (*Pruner, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing prune schedule %q: %w", spec, err)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	return &Pruner{
		repo:      repo,
		schedule:  schedule,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Next returns the next scheduled run after t.
func (p *Pruner) Next(t time.Time) time.Time {
	return p.schedule.Next(t)
}

// Start begins pruning in the background.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != nil {
		return fmt.Errorf("pruner already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.loop(p.ctx)

	p.logger.Info("telemetry pruner started",
		slog.Duration("retention", p.retention),
		slog.Time("next_run", p.Next(p.now())))
	return nil
}

// Stop stops the pruner and waits for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.ctx = nil
	p.cancel = nil
	p.mu.Unlock()
}

func (p *Pruner) loop(ctx context.Context) {
	defer p.wg.Done()

	for {
		wait := p.Next(p.now()).Sub(p.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := p.Prune(ctx); err != nil {
				p.logger.Error("telemetry prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Prune deletes events older than the retention period.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.logger.Debug("telemetry pruned",
		slog.Int64("deleted", n),
		slog.Time("cutoff", cutoff))
	return n, nil
}
