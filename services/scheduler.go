// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartSettlementScheduler sweeps ended events on a fixed interval.
func (s *SettlementService) StartSettlementScheduler(interval time.Duration) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if err := s.RunSweep(ctx); err != nil {
				log.Printf("[Scheduler] Settlement sweep error: %v", err)
			}
		}),
	)
}
