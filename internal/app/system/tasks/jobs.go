// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"github.com/mossrock/roomdrop/internal/app/system/metrics"
	"go.uber.org/zap"
)

// Sweeper closes room sessions that have been idle for at least the given
// duration and reports how many it closed. The rooms registry implements it.
type Sweeper interface {
	SweepIdle(olderThan time.Duration) int
}

// RoomSweepJob creates a job that closes room sessions abandoned by their
// clients. A session with no live subscribers keeps its tree mirror and
// change streams alive until the sweep reclaims it.
func RoomSweepJob(reg Sweeper, interval, idleAfter time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     "room-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			n := reg.SweepIdle(idleAfter)
			if n > 0 {
				metrics.AddSweptSessions(n)
				logger.Info("swept idle room sessions",
					zap.Int("closed", n),
					zap.Duration("idle_after", idleAfter))
			}
			return nil
		},
	}
}
