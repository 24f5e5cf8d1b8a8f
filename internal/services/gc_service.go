package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/config"
	"github.com/mediavault/backend/internal/metrics"
	"github.com/mediavault/backend/internal/storage"
)

type GCMode string

const (
	GCModeOrphan    GCMode = "orphan"
	GCModeRetention GCMode = "retention"
)

type GCOptions struct {
	Mode GCMode
	// DryRun accumulates counts and the bytes-freed estimate without
	// mutating anything.
	DryRun bool
	// Limit caps the number of deletions (or, in dry-run, counted
	// candidates); zero means unlimited.
	Limit int
	// AllowPublicDelete lets retention mode delete public rows. Orphan mode
	// ignores it: orphans have no DB linkage to preserve.
	AllowPublicDelete bool
	// RetentionCutoff overrides the configured retention window.
	RetentionCutoff time.Time
}

type GCReport struct {
	Mode               GCMode `json:"mode"`
	Disk               string `json:"disk"`
	DryRun             bool   `json:"dry_run"`
	Scanned            int    `json:"scanned"`
	Found              int    `json:"found"`
	Deleted            int    `json:"deleted"`
	BytesFreedEstimate int64  `json:"bytes_freed_estimate"`
}

// errGCLimitReached aborts iteration without being a failure.
var errGCLimitReached = errors.New("gc: limit reached")

// GCService reclaims storage in two independent modes: orphan (storage
// objects no metadata row references) and retention (rows past a cutoff).
// A storage delete failure aborts the remainder of the run immediately;
// counts accumulated so far are preserved and always audited.
type GCService struct {
	cfg    *config.Config
	repo   MediaRepository
	driver storage.Driver
	walker storage.Walker
	audit  AuditSink
	log    zerolog.Logger
	now    func() time.Time
}

func NewGCService(cfg *config.Config, repo MediaRepository, driver storage.Driver, walker storage.Walker, audit AuditSink, log zerolog.Logger) *GCService {
	return &GCService{
		cfg:    cfg,
		repo:   repo,
		driver: driver,
		walker: walker,
		audit:  audit,
		log:    log.With().Str("component", "gc").Logger(),
		now:    time.Now,
	}
}

func (s *GCService) Run(ctx context.Context, opts GCOptions) (GCReport, error) {
	report := GCReport{Mode: opts.Mode, Disk: s.driver.Name(), DryRun: opts.DryRun}

	var err error
	switch opts.Mode {
	case GCModeOrphan:
		err = s.runOrphan(ctx, opts, &report)
	case GCModeRetention:
		err = s.runRetention(ctx, opts, &report)
	default:
		return report, ErrGCInvalidMode
	}

	event := "gc_run"
	if opts.DryRun {
		event = "gc_dry_run"
	}
	details := map[string]interface{}{
		"mode":                 string(report.Mode),
		"disk":                 report.Disk,
		"dry_run":              report.DryRun,
		"scanned":              report.Scanned,
		"found":                report.Found,
		"deleted":              report.Deleted,
		"bytes_freed_estimate": report.BytesFreedEstimate,
	}
	if err != nil {
		details["aborted"] = err.Error()
	}
	_ = s.audit.Log(ctx, event, "storage", s.driver.Name(), details)

	return report, err
}

// runOrphan walks the backend under the scan prefix and removes every
// object no metadata row references. Public objects are deletable here by
// default: an orphan has no row whose is_public flag could protect it.
func (s *GCService) runOrphan(ctx context.Context, opts GCOptions, report *GCReport) error {
	walkErr := s.walker.Walk(ctx, s.cfg.GCScanPrefix, func(obj storage.ObjectInfo) error {
		report.Scanned++
		if s.exempt(obj.DiskPath) {
			return nil
		}

		row, err := s.repo.FindByDiskPath(ctx, obj.DiskPath)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGCStorageListFailed, err)
		}
		if row != nil {
			return nil
		}

		report.Found++
		report.BytesFreedEstimate += obj.SizeBytes
		if !opts.DryRun {
			if !s.driver.Delete(ctx, obj.DiskPath) {
				return fmt.Errorf("%w: %s", ErrGCStorageDeleteFailed, obj.DiskPath)
			}
			report.Deleted++
			metrics.GCDeletedTotal.WithLabelValues(string(GCModeOrphan)).Inc()
		}
		if opts.Limit > 0 && report.Found >= opts.Limit {
			return errGCLimitReached
		}
		return nil
	})

	if walkErr == nil || errors.Is(walkErr, errGCLimitReached) {
		return nil
	}
	if errors.Is(walkErr, ErrGCStorageDeleteFailed) || errors.Is(walkErr, ErrGCStorageListFailed) {
		return walkErr
	}
	return fmt.Errorf("%w: %v", ErrGCStorageListFailed, walkErr)
}

// runRetention pages metadata rows older than the cutoff by increasing id,
// so an interrupted run resumes without reprocessing handled rows.
func (s *GCService) runRetention(ctx context.Context, opts GCOptions, report *GCReport) error {
	cutoff := opts.RetentionCutoff
	if cutoff.IsZero() {
		cutoff = s.now().AddDate(0, 0, -s.cfg.GCRetentionDays)
	}

	const batchSize = 200
	afterID := ""
	for {
		rows, err := s.repo.ListReadyOlderThan(ctx, cutoff, afterID, batchSize)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGCStorageListFailed, err)
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			afterID = row.ID.String()
			report.Scanned++

			if row.IsPublic && !opts.AllowPublicDelete {
				continue
			}
			if s.exempt(row.DiskPath) {
				continue
			}

			report.Found++
			report.BytesFreedEstimate += row.SizeBytes
			if !opts.DryRun {
				if !s.driver.Delete(ctx, row.DiskPath) {
					return fmt.Errorf("%w: %s", ErrGCStorageDeleteFailed, row.DiskPath)
				}
				if err := s.repo.Delete(ctx, row.ID); err != nil {
					return fmt.Errorf("%w: delete row %s: %v", ErrGCStorageDeleteFailed, row.ID, err)
				}
				report.Deleted++
				metrics.GCDeletedTotal.WithLabelValues(string(GCModeRetention)).Inc()
			}
			if opts.Limit > 0 && report.Found >= opts.Limit {
				return nil
			}
		}
	}
}

func (s *GCService) exempt(diskPath string) bool {
	for _, prefix := range s.cfg.GCExemptPrefixes {
		if prefix != "" && strings.HasPrefix(diskPath, prefix) {
			return true
		}
	}
	return false
}
