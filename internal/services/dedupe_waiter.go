package services

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/mediavault/backend/internal/config"
	"github.com/mediavault/backend/internal/models"
)

// DedupeWaiter resolves the race where two uploads of byte-identical
// content arrive concurrently: the second caller polls for the first
// caller's row to reach a terminal state instead of writing a duplicate
// object. The clock, sleep and jitter primitives are injectable so tests
// run without real waiting.
type DedupeWaiter struct {
	repo    MediaRepository
	initial time.Duration
	max     time.Duration
	ceiling time.Duration

	now    func() time.Time
	sleep  func(time.Duration)
	jitter func(time.Duration) time.Duration
}

func NewDedupeWaiter(cfg *config.Config, repo MediaRepository) *DedupeWaiter {
	return &DedupeWaiter{
		repo:    repo,
		initial: cfg.DedupeInitialDelay,
		max:     cfg.DedupeMaxDelay,
		ceiling: cfg.DedupeCeiling,
		now:     time.Now,
		sleep:   time.Sleep,
		jitter:  defaultJitter,
	}
}

// defaultJitter adds up to half the delay of bounded random noise to avoid
// thundering-herd polling.
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)/2 + 1))
}

// Await polls until the row holding sha256 reaches ready (returns its id)
// or failed (ErrDedupeFailed). When the wall-clock ceiling is exceeded it
// returns ErrDedupePending: the outer operation can be retried later.
func (w *DedupeWaiter) Await(ctx context.Context, sha256 string) (uuid.UUID, error) {
	deadline := w.now().Add(w.ceiling)
	delay := w.initial

	for {
		obj, err := w.repo.FindByHash(ctx, sha256)
		if err != nil {
			return uuid.Nil, err
		}
		if obj != nil {
			switch obj.Status {
			case models.MediaStatusReady:
				return obj.ID, nil
			case models.MediaStatusFailed:
				return uuid.Nil, ErrDedupeFailed
			}
		}
		// A vanished row means the competing upload was reaped; treat it
		// like a still-pending one and let the caller retry the upload.

		if ctx.Err() != nil {
			return uuid.Nil, ctx.Err()
		}
		if w.now().After(deadline) {
			return uuid.Nil, ErrDedupePending
		}

		w.sleep(delay + w.jitter(delay))
		delay *= 2
		if delay > w.max {
			delay = w.max
		}
	}
}
