package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper ends idle sessions; app.Lifecycle implements it.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Pruner drops stale per-user state; core.MessageRateLimiter implements it.
type Pruner interface {
	Prune() int
}

// SweepService periodically ends idle sessions and prunes limiter
// windows.
type SweepService struct {
	sweeper  Sweeper
	pruners  []Pruner
	interval time.Duration
}

func NewSweepService(sweeper Sweeper, interval time.Duration, pruners ...Pruner) *SweepService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SweepService{sweeper: sweeper, pruners: pruners, interval: interval}
}

func (s *SweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass. Errors are logged; the next tick retries.
func (s *SweepService) RunOnce(ctx context.Context) {
	ended, err := s.sweeper.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "services").Msg("idle sweep failed")
	}
	pruned := 0
	for _, p := range s.pruners {
		pruned += p.Prune()
	}
	if ended > 0 || pruned > 0 {
		log.Info().Str("module", "services").Int("ended", ended).Int("pruned", pruned).Msg("sweep done")
	}
}

func (s *SweepService) String() string { return "idle-sweeper" }
