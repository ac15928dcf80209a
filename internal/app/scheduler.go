package app

import (
	"context"
	"sync"

	"time"

	"github.com/tallyhq/tally/internal/interfaces"
)

// Scheduler runs the outbox dispatcher on a fixed interval so events
// drain without anyone calling the process endpoint.
type Scheduler struct {
	app    *App
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates the in-process dispatch loop. Call Start to run.
func NewScheduler(a *App) *Scheduler {
	return &Scheduler{app: a}
}

// Start launches the tick loop. No-op unless cron is enabled.
func (s *Scheduler) Start() {
	if !s.app.Config.Outbox.CronEnabled {
		s.app.Logger.Debug().Msg("Outbox cron disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	interval := s.app.Config.Outbox.GetCronInterval()
	s.app.Logger.Info().
		Dur("interval", interval).
		Msg("Starting outbox dispatch loop")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				summary, err := s.app.OutboxService.ProcessOnce(ctx, interfaces.OutboxRunOptions{})
				if err != nil {
					s.app.Logger.Warn().Err(err).Msg("Outbox dispatch run failed")
					continue
				}
				if summary.Attempted > 0 {
					s.app.Logger.Info().
						Int("attempted", summary.Attempted).
						Int("sent", summary.Sent).
						Int("retried", summary.Retried).
						Msg("Outbox dispatch run complete")
				}
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}
