package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/config"
	"github.com/mediavault/backend/internal/metrics"
	"github.com/mediavault/backend/internal/models"
	"github.com/mediavault/backend/internal/storage"
	"github.com/mediavault/backend/pkg/sniff"
)

type ThumbOutcome string

const (
	ThumbGenerated     ThumbOutcome = "generated"
	ThumbSkipped       ThumbOutcome = "skipped"
	ThumbUnsupported   ThumbOutcome = "unsupported"
	ThumbTooManyPixels ThumbOutcome = "too_many_pixels"
	ThumbDecodeFailed  ThumbOutcome = "decode_failed"
)

// A single pathological image must not stall a request indefinitely, no
// matter how generous the configured budget is.
const thumbDeadlineCap = 20 * time.Second

// Thumbnailer derives bounded-size image variants. Failures are recorded
// as reason markers next to the would-be artifact, never surfaced as
// request errors: the pipeline degrades to "no thumbnail, known reason".
type Thumbnailer struct {
	cfg      *config.Config
	driver   storage.Driver
	audit    AuditSink
	decoders []ImageDecoder
	log      zerolog.Logger
	now      func() time.Time
}

func NewThumbnailer(cfg *config.Config, driver storage.Driver, audit AuditSink, log zerolog.Logger) *Thumbnailer {
	return &Thumbnailer{
		cfg:      cfg,
		driver:   driver,
		audit:    audit,
		decoders: defaultDecoders(),
		log:      log.With().Str("component", "thumbnailer").Logger(),
		now:      time.Now,
	}
}

// Generate derives one variant for one object. The outcome is always
// well-defined; rejections leave a reason marker so later sync passes skip
// known-bad inputs until the algorithm version bumps.
func (t *Thumbnailer) Generate(ctx context.Context, obj *models.MediaObject, variant string, maxWidth int) ThumbOutcome {
	outcome := t.generate(ctx, obj, variant, maxWidth)
	metrics.ThumbnailsTotal.WithLabelValues(variant, string(outcome)).Inc()
	return outcome
}

func (t *Thumbnailer) generate(ctx context.Context, obj *models.MediaObject, variant string, maxWidth int) ThumbOutcome {
	if !sniff.IsImage(obj.MimeType) {
		return ThumbUnsupported
	}

	thumbPath := storage.ThumbPath(obj.CreatedAt, obj.Sha256, variant, t.cfg.ThumbAlgoVersion, "jpg")
	reasonPath := storage.ReasonPath(obj.CreatedAt, obj.Sha256, variant, t.cfg.ThumbAlgoVersion)

	if t.driver.Exists(ctx, thumbPath) {
		return ThumbSkipped
	}
	if t.driver.Exists(ctx, reasonPath) {
		// Known-bad input; re-attempted only after an algorithm version bump
		// changes both paths.
		return ThumbSkipped
	}

	decoder := t.decoderFor(obj.MimeType)
	if decoder == nil {
		t.recordReason(ctx, reasonPath, ThumbUnsupported)
		return ThumbUnsupported
	}

	budget := t.cfg.ThumbTimeBudget
	if budget <= 0 || budget > thumbDeadlineCap {
		budget = thumbDeadlineCap
	}
	deadline := t.now().Add(budget)

	src, err := t.driver.Get(ctx, obj.DiskPath)
	if err != nil {
		t.log.Warn().Err(err).Str("disk_path", obj.DiskPath).Msg("thumbnail source read failed")
		t.recordReason(ctx, reasonPath, ThumbDecodeFailed)
		return ThumbDecodeFailed
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		t.recordReason(ctx, reasonPath, ThumbDecodeFailed)
		return ThumbDecodeFailed
	}

	// Pixel budget guard: checked from the header alone, before any pixel
	// data is decoded, so a decompression bomb never gets that far.
	imgCfg, err := decoder.DecodeConfig(data)
	if err != nil {
		t.recordReason(ctx, reasonPath, ThumbDecodeFailed)
		return ThumbDecodeFailed
	}
	pixels := int64(imgCfg.Width) * int64(imgCfg.Height)
	if pixels > t.cfg.ThumbPixelBudget {
		_ = t.audit.Log(ctx, "thumb_rejected", "media_object", obj.ID.String(), map[string]interface{}{
			"variant": variant,
			"reason":  string(ThumbTooManyPixels),
			"width":   imgCfg.Width,
			"height":  imgCfg.Height,
			"pixels":  pixels,
		})
		t.recordReason(ctx, reasonPath, ThumbTooManyPixels)
		return ThumbTooManyPixels
	}

	if t.now().After(deadline) {
		t.recordReason(ctx, reasonPath, ThumbDecodeFailed)
		return ThumbDecodeFailed
	}

	img, err := decoder.Decode(data)
	if err != nil {
		t.recordReason(ctx, reasonPath, ThumbDecodeFailed)
		return ThumbDecodeFailed
	}

	if t.now().After(deadline) {
		t.recordReason(ctx, reasonPath, ThumbDecodeFailed)
		return ThumbDecodeFailed
	}

	resized := resizeToWidth(img, maxWidth)
	flattened := flattenToWhite(resized)

	if t.now().After(deadline) {
		t.recordReason(ctx, reasonPath, ThumbDecodeFailed)
		return ThumbDecodeFailed
	}

	// Re-encoding from decoded pixels drops every embedded EXIF/ICC block.
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flattened, imaging.JPEG, imaging.JPEGQuality(t.cfg.ThumbQuality)); err != nil {
		t.recordReason(ctx, reasonPath, ThumbDecodeFailed)
		return ThumbDecodeFailed
	}

	if !t.driver.PutBytes(ctx, thumbPath, buf.Bytes()) {
		t.recordReason(ctx, reasonPath, ThumbDecodeFailed)
		return ThumbDecodeFailed
	}
	t.driver.Delete(ctx, reasonPath)
	return ThumbGenerated
}

// ThumbPathFor returns the artifact path a variant would occupy; used by
// the serving layer.
func (t *Thumbnailer) ThumbPathFor(obj *models.MediaObject, variant string) string {
	return storage.ThumbPath(obj.CreatedAt, obj.Sha256, variant, t.cfg.ThumbAlgoVersion, "jpg")
}

// SyncObject generates every configured variant for one object.
func (t *Thumbnailer) SyncObject(ctx context.Context, obj *models.MediaObject) map[string]ThumbOutcome {
	outcomes := make(map[string]ThumbOutcome, len(t.cfg.ThumbVariants))
	for variant, width := range t.cfg.ThumbVariants {
		outcomes[variant] = t.Generate(ctx, obj, variant, width)
	}
	return outcomes
}

// ThumbSyncReport aggregates a full sync pass.
type ThumbSyncReport struct {
	Objects   int            `json:"objects"`
	ByOutcome map[string]int `json:"by_outcome"`
}

// SyncAll pages every ready object and generates missing variants,
// checking for cancellation at each iteration boundary.
func (t *Thumbnailer) SyncAll(ctx context.Context, repo MediaRepository, batch int) (ThumbSyncReport, error) {
	report := ThumbSyncReport{ByOutcome: map[string]int{}}
	afterID := ""
	for {
		objs, err := repo.ListReadySince(ctx, time.Time{}, afterID, batch)
		if err != nil {
			return report, fmt.Errorf("list objects: %w", err)
		}
		if len(objs) == 0 {
			return report, nil
		}
		for _, obj := range objs {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			afterID = obj.ID.String()
			if !sniff.IsImage(obj.MimeType) {
				continue
			}
			report.Objects++
			for _, outcome := range t.SyncObject(ctx, obj) {
				report.ByOutcome[string(outcome)]++
			}
		}
	}
}

func (t *Thumbnailer) decoderFor(mime string) ImageDecoder {
	for _, d := range t.decoders {
		if d.SupportsMime(mime) {
			return d
		}
	}
	return nil
}

func (t *Thumbnailer) recordReason(ctx context.Context, reasonPath string, outcome ThumbOutcome) {
	if !t.driver.PutBytes(ctx, reasonPath, []byte(outcome)) {
		t.log.Warn().Str("path", reasonPath).Msg("reason marker write failed")
	}
}

// resizeToWidth scales down to maxWidth preserving aspect ratio. Images
// already narrower than the variant are passed through untouched.
func resizeToWidth(img image.Image, maxWidth int) image.Image {
	if img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
}

// flattenToWhite composites transparency onto a white background; JPEG has
// no alpha channel.
func flattenToWhite(img image.Image) image.Image {
	bg := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
