package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog records a lifecycle event (upload, gc run, thumbnail rejection)
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Action     string    `gorm:"type:varchar(100);not null" json:"action"`      // e.g., "gc_run", "thumb_rejected"
	TargetType string    `gorm:"type:varchar(50);not null" json:"target_type"`  // e.g., "media_object", "storage"
	TargetID   string    `gorm:"type:varchar(128)" json:"target_id"`
	Details    string    `gorm:"type:text" json:"details,omitempty"` // JSON string with additional info
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}
