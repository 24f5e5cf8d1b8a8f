package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/storage"
)

// UploadReaper cleans up abandoned in-flight uploads: rows stuck in
// uploading state past a cutoff, together with their quarantine file and
// any partially finalized storage object. Distinct from orphan GC, which
// targets live orphaned objects.
type UploadReaper struct {
	repo MediaRepository
	orch *storage.Orchestrator
	log  zerolog.Logger
}

func NewUploadReaper(repo MediaRepository, orch *storage.Orchestrator, log zerolog.Logger) *UploadReaper {
	return &UploadReaper{
		repo: repo,
		orch: orch,
		log:  log.With().Str("component", "upload-reaper").Logger(),
	}
}

// Reap deletes up to limit abandoned rows older than cutoff (limit <= 0
// means unlimited) and returns how many were removed.
func (r *UploadReaper) Reap(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	rows, err := r.repo.ListUploadingOlderThan(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}

		r.orch.Discard(row.QuarantinePath)
		// Delete is idempotent, so a never-finalized object is fine here.
		if !r.orch.Driver().Delete(ctx, row.DiskPath) {
			r.log.Warn().Str("disk_path", row.DiskPath).Msg("reaper: storage delete failed")
			continue
		}
		if err := r.repo.Delete(ctx, row.ID); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}
