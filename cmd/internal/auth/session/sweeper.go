package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically purges expired revocation entries.
//
// Correctness never depends on it: IsRevoked ignores expired entries and Verify
// rejects expired tokens on its own. It only bounds storage growth.
type Sweeper struct {
	store    RevocationStore
	interval time.Duration
	log      *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewSweeper builds a Sweeper. A non-positive interval falls back to one hour.
func NewSweeper(store RevocationStore, interval time.Duration, log *slog.Logger, metrics *Metrics) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, log: log, metrics: metrics, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("revocation.sweeper.start", "interval", s.interval.String())

	_, _ = s.SweepOnce(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("revocation.sweeper.stop")
			return
		case <-t.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep. Errors are logged and returned, never retried.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.store.Sweep(ctx, s.now().UTC())
	s.metrics.sweepResult(n, err)
	if err != nil {
		s.log.Error("revocation.sweep.fail", "err", err)
		return 0, err
	}
	if n > 0 {
		s.log.Info("revocation.sweep.ok", "removed", n)
	}
	return n, nil
}
