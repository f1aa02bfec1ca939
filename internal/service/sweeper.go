package service

import (
	"context"
	"time"

	"github.com/SaiyanSerguchev/evimed-sub000/pkg/logger"
)

// Sweeper bounds the lifetime of abandoned drafts and codes. Deletes are
// unconditional on expiry time, so running next to in-flight orchestrator
// calls is safe.
type Sweeper struct {
	service  VerificationService
	interval time.Duration
}

func NewSweeper(svc VerificationService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{service: svc, interval: interval}
}

// Run blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("Cleanup sweeper started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cleanup sweeper stopped")
			return
		case <-ticker.C:
			codes, requests, err := s.service.Cleanup(ctx)
			if err != nil {
				logger.Error("Cleanup sweep failed", "error", err)
				continue
			}
			if codes > 0 || requests > 0 {
				logger.Info("Cleanup sweep completed",
					"codes_removed", codes,
					"requests_removed", requests,
				)
			}
		}
	}
}
