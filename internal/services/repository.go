package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mediavault/backend/internal/models"
)

// MediaRepository is the metadata store consumed by the pipeline and the
// batch jobs. Lookups return (nil, nil) when no row matches.
type MediaRepository interface {
	Create(ctx context.Context, obj *models.MediaObject) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.MediaObject, error)
	FindByHash(ctx context.Context, sha256 string) (*models.MediaObject, error)
	FindReadyByHash(ctx context.Context, sha256 string) (*models.MediaObject, error)
	FindByDiskPath(ctx context.Context, diskPath string) (*models.MediaObject, error)
	MarkReady(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListReadyOlderThan pages ready rows created before cutoff, ordered by
	// id ascending, starting after afterID ("" for the first page).
	ListReadyOlderThan(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*models.MediaObject, error)
	// ListUploadingOlderThan returns rows stuck in uploading state.
	ListUploadingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.MediaObject, error)
	// ListReadySince pages ready rows created at or after since, ordered by
	// id ascending, starting after afterID.
	ListReadySince(ctx context.Context, since time.Time, afterID string, limit int) ([]*models.MediaObject, error)
}

// AuditSink records lifecycle events.
type AuditSink interface {
	Log(ctx context.Context, action, targetType, targetID string, details map[string]interface{}) error
}
