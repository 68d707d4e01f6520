package workorder

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration returns the wait until expr next fires after now.
func nextCronDuration(sched cron.Schedule, now time.Time) time.Duration {
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RunRefresh refreshes the store every time expr fires until ctx is done.
// Refresh failures are already surfaced as notices and do not stop the loop.
func (s *Store) RunRefresh(ctx context.Context, expr string) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("workorder: refresh schedule %q: %w", expr, err)
	}
	for {
		t := time.NewTimer(nextCronDuration(sched, time.Now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if err := s.Refresh(ctx); err != nil {
			s.logger.Warn("scheduled refresh failed", zap.Error(err))
		}
	}
}
