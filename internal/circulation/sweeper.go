package circulation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires elapsed reservations so queue positions do
// not sit behind dead entries between fulfillment events. Expiry itself is
// lazy and also happens inline during Fulfill; the sweeper only makes it
// proactive.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper; interval defaults to five minutes.
func NewSweeper(coord *Coordinator, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{coord: coord, interval: interval, logger: logger}
}

// Run sweeps until ctx is done. Sweep failures are logged and retried on the
// next tick rather than stopping the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.coord.ExpireReservations(ctx); err != nil {
				s.logger.Error("reservation sweep", "error", err)
			}
		}
	}
}
