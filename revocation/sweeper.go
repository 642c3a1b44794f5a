package revocation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweepable is anything holding self-expiring entries that need explicit
// release.
type Sweepable interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper periodically calls SweepExpired on its targets.
type Sweeper struct {
	interval time.Duration
	targets  []Sweepable
	logger   *zap.Logger
}

// NewSweeper returns a Sweeper. A nil logger discards output.
func NewSweeper(interval time.Duration, logger *zap.Logger, targets ...Sweepable) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{interval: interval, targets: targets, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass over all targets and returns the total
// number of entries removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for _, target := range s.targets {
		n, err := target.SweepExpired(ctx)
		if err != nil {
			s.logger.Warn("sweep failed", zap.Error(err))
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.Debug("swept expired entries", zap.Int("removed", total))
	}
	return total
}
