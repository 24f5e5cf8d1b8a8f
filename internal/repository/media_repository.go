package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mediavault/backend/internal/models"
)

// MediaRepository is the gorm-backed metadata store.
type MediaRepository struct {
	db *gorm.DB
}

func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

func (r *MediaRepository) Create(ctx context.Context, obj *models.MediaObject) error {
	return r.db.WithContext(ctx).Create(obj).Error
}

func (r *MediaRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.MediaObject, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *MediaRepository) FindByHash(ctx context.Context, sha256 string) (*models.MediaObject, error) {
	// Prefer a ready row; otherwise surface any in-flight one.
	obj, err := r.FindReadyByHash(ctx, sha256)
	if err != nil || obj != nil {
		return obj, err
	}
	return r.findOne(ctx, "sha256 = ?", sha256)
}

func (r *MediaRepository) FindReadyByHash(ctx context.Context, sha256 string) (*models.MediaObject, error) {
	return r.findOne(ctx, "sha256 = ? AND status = ?", sha256, models.MediaStatusReady)
}

func (r *MediaRepository) FindByDiskPath(ctx context.Context, diskPath string) (*models.MediaObject, error) {
	return r.findOne(ctx, "disk_path = ?", diskPath)
}

func (r *MediaRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.MediaObject, error) {
	var obj models.MediaObject
	err := r.db.WithContext(ctx).Where(query, args...).Order("created_at ASC").First(&obj).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (r *MediaRepository) MarkReady(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.MediaObject{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.MediaStatusReady,
			"quarantine_path": "",
		}).Error
}

func (r *MediaRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.MediaObject{}).
		Where("id = ?", id).
		Update("status", models.MediaStatusFailed).Error
}

func (r *MediaRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.MediaObject{}, "id = ?", id).Error
}

func (r *MediaRepository) ListReadyOlderThan(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*models.MediaObject, error) {
	var objs []*models.MediaObject
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.MediaStatusReady, cutoff)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	err := q.Order("id ASC").Limit(limit).Find(&objs).Error
	return objs, err
}

func (r *MediaRepository) ListUploadingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.MediaObject, error) {
	var objs []*models.MediaObject
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.MediaStatusUploading, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&objs).Error
	return objs, err
}

func (r *MediaRepository) ListReadySince(ctx context.Context, since time.Time, afterID string, limit int) ([]*models.MediaObject, error) {
	var objs []*models.MediaObject
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at >= ?", models.MediaStatusReady, since)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	err := q.Order("id ASC").Limit(limit).Find(&objs).Error
	return objs, err
}
