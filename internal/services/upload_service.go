package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/config"
	"github.com/mediavault/backend/internal/metrics"
	"github.com/mediavault/backend/internal/models"
	"github.com/mediavault/backend/internal/storage"
	"github.com/mediavault/backend/pkg/sniff"
)

type UploadStatus string

const (
	UploadStored   UploadStatus = "stored"
	UploadDeduped  UploadStatus = "deduped"
	UploadRejected UploadStatus = "rejected"
	UploadFailed   UploadStatus = "failed"
)

// UploadResult is the discriminated outcome of one pipeline run. Errors
// never cross this boundary as panics or bare error returns; rejections and
// failures carry a machine-readable reason key.
type UploadResult struct {
	Status UploadStatus `json:"status"`
	ID     uuid.UUID    `json:"id,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Sha256 string       `json:"sha256,omitempty"`
}

type UploadInput struct {
	Body         io.Reader
	OriginalName string
	UploadedBy   string
	IsPublic     bool
}

// UploadService runs the ingestion state machine: quarantine, validate,
// hash, dedupe, finalize, persist. Single pass, no retries within a call.
type UploadService struct {
	cfg     *config.Config
	repo    MediaRepository
	orch    *storage.Orchestrator
	waiter  *DedupeWaiter
	scanner *VirusScanner
	audit   AuditSink
	log     zerolog.Logger
	now     func() time.Time
}

func NewUploadService(cfg *config.Config, repo MediaRepository, orch *storage.Orchestrator, waiter *DedupeWaiter, scanner *VirusScanner, audit AuditSink, log zerolog.Logger) *UploadService {
	return &UploadService{
		cfg:     cfg,
		repo:    repo,
		orch:    orch,
		waiter:  waiter,
		scanner: scanner,
		audit:   audit,
		log:     log.With().Str("component", "upload-service").Logger(),
		now:     time.Now,
	}
}

func (s *UploadService) Upload(ctx context.Context, in UploadInput) UploadResult {
	res := s.upload(ctx, in)
	metrics.RecordUpload(string(res.Status), res.Reason, 0)
	return res
}

func (s *UploadService) upload(ctx context.Context, in UploadInput) UploadResult {
	// 1. Quarantine: copy the stream into the isolated area, hashing on the
	// way. One byte over the budget is enough to reject, so the copy is
	// capped right above it.
	qPath, size, hash, err := s.orch.Quarantine(io.LimitReader(in.Body, s.cfg.UploadMaxBytes+1))
	if err != nil {
		s.log.Error().Err(err).Msg("quarantine write failed")
		return UploadResult{Status: UploadFailed, Reason: ReasonStorageFailure}
	}

	// 2. Size budget.
	if size > s.cfg.UploadMaxBytes {
		s.orch.Discard(qPath)
		return UploadResult{Status: UploadRejected, Reason: ReasonOversized}
	}

	// 3. True MIME type from magic bytes; client content-type is ignored.
	mime, ok := sniff.Detect(qPath)
	if !ok {
		s.orch.Discard(qPath)
		return UploadResult{Status: UploadRejected, Reason: ReasonInvalidType}
	}
	if mime == sniff.MimeSVG {
		s.orch.Discard(qPath)
		return UploadResult{Status: UploadRejected, Reason: ReasonSVGForbidden}
	}
	ext, ok := sniff.ExtensionFor(mime)
	if !ok || !s.mimeAllowed(mime) {
		s.orch.Discard(qPath)
		return UploadResult{Status: UploadRejected, Reason: ReasonInvalidType}
	}

	// 4. Optional antivirus pass over the quarantine file. A scan error is
	// never treated as clean.
	if s.scanner != nil && s.scanner.Enabled() {
		switch scan := s.scanner.Scan(ctx, qPath); scan.Status {
		case ScanInfected:
			s.orch.Discard(qPath)
			_ = s.audit.Log(ctx, "upload_infected", "media_object", hash, map[string]interface{}{
				"signature": scan.Signature,
				"mime_type": mime,
			})
			return UploadResult{Status: UploadRejected, Reason: ReasonAVInfected}
		case ScanError:
			s.orch.Discard(qPath)
			return UploadResult{Status: UploadFailed, Reason: ReasonAVError}
		}
	}

	// 5. Dedupe by content hash. A ready row wins outright; an in-flight
	// row means another upload of the same bytes is racing us.
	if existing, err := s.repo.FindByHash(ctx, hash); err == nil && existing != nil {
		switch existing.Status {
		case models.MediaStatusReady:
			s.orch.Discard(qPath)
			return UploadResult{Status: UploadDeduped, ID: existing.ID, Sha256: hash}
		case models.MediaStatusUploading:
			s.orch.Discard(qPath)
			id, werr := s.waiter.Await(ctx, hash)
			if werr != nil {
				s.log.Warn().Err(werr).Str("sha256", hash).Msg("dedupe wait unresolved")
				reason := ReasonDedupeFailed
				if errors.Is(werr, ErrDedupePending) {
					reason = ReasonDedupePending
				}
				return UploadResult{Status: UploadFailed, Reason: reason, Sha256: hash}
			}
			return UploadResult{Status: UploadDeduped, ID: id, Sha256: hash}
		}
		// A failed row with the same hash does not block a fresh attempt.
	} else if err != nil {
		s.orch.Discard(qPath)
		s.log.Error().Err(err).Msg("dedupe lookup failed")
		return UploadResult{Status: UploadFailed, Reason: ReasonStorageFailure}
	}

	// 6. Record the in-flight row, then move the quarantine file into its
	// deterministic final path.
	now := s.now()
	id := uuid.New()
	diskPath := storage.ObjectPath(now, id, ext)

	obj := &models.MediaObject{
		ID:             id,
		UUID:           id,
		Sha256:         hash,
		DiskPath:       diskPath,
		OriginalName:   in.OriginalName,
		MimeType:       mime,
		SizeBytes:      size,
		Status:         models.MediaStatusUploading,
		UploadedBy:     in.UploadedBy,
		IsPublic:       in.IsPublic,
		PublicToken:    newPublicToken(),
		QuarantinePath: qPath,
	}
	if err := s.repo.Create(ctx, obj); err != nil {
		s.orch.Discard(qPath)
		s.log.Error().Err(err).Msg("metadata insert failed")
		return UploadResult{Status: UploadFailed, Reason: ReasonStorageFailure}
	}

	if !s.orch.Finalize(ctx, qPath, diskPath) {
		_ = s.repo.MarkFailed(ctx, obj.ID)
		s.orch.Discard(qPath)
		return UploadResult{Status: UploadFailed, Reason: ReasonStorageFailure, Sha256: hash}
	}

	// 7. Last-writer check: if a competing upload reached ready while we
	// were writing, back out our object (compensating delete) and defer to
	// the winner.
	if winner, err := s.repo.FindReadyByHash(ctx, hash); err == nil && winner != nil && winner.ID != obj.ID {
		s.orch.Driver().Delete(ctx, diskPath)
		_ = s.repo.Delete(ctx, obj.ID)
		return UploadResult{Status: UploadDeduped, ID: winner.ID, Sha256: hash}
	}

	if err := s.repo.MarkReady(ctx, obj.ID); err != nil {
		// Compensating delete: a metadata failure must not leave an orphan.
		s.orch.Driver().Delete(ctx, diskPath)
		_ = s.repo.Delete(ctx, obj.ID)
		s.log.Error().Err(err).Msg("finalize metadata update failed")
		return UploadResult{Status: UploadFailed, Reason: ReasonStorageFailure, Sha256: hash}
	}

	metrics.RecordUpload("accepted", "", size)
	return UploadResult{Status: UploadStored, ID: obj.ID, Sha256: hash}
}

func (s *UploadService) mimeAllowed(mime string) bool {
	if len(s.cfg.AllowedMimeTypes) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedMimeTypes {
		if allowed == mime {
			return true
		}
	}
	return false
}

// newPublicToken returns the opaque value mixed into signed-URL
// computation; rotating it invalidates previously issued links.
func newPublicToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
