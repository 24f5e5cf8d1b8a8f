package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MediaStatus string

const (
	MediaStatusUploading MediaStatus = "uploading"
	MediaStatusReady     MediaStatus = "ready"
	MediaStatusFailed    MediaStatus = "failed"
)

// MediaObject is the canonical record of a stored file.
// Sha256 is the dedupe key: unique among rows in "ready" state.
// DiskPath is derived from creation time + UUID + extension and never
// changes after finalize.
type MediaObject struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	UUID         uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex" json:"uuid"`
	Sha256       string      `gorm:"size:64;not null;index" json:"sha256"`
	DiskPath     string      `gorm:"size:512;not null;uniqueIndex" json:"disk_path"`
	OriginalName string      `gorm:"size:255" json:"original_name"`
	MimeType     string      `gorm:"size:120" json:"mime_type"`
	SizeBytes    int64       `json:"size_bytes"`
	Status       MediaStatus `gorm:"size:16;not null;default:uploading;index" json:"status"`
	UploadedBy   string      `gorm:"size:64" json:"uploaded_by"`
	IsPublic     bool        `gorm:"not null;default:false" json:"is_public"`
	PublicToken  string      `gorm:"size:64" json:"-"`
	QuarantinePath string    `gorm:"size:512" json:"-"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *MediaObject) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	return nil
}

func (MediaObject) TableName() string {
	return "media_objects"
}
