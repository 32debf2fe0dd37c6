// Package audit records STOW-RS and DELETE operations to an optional
// Postgres-backed trail, adapted from the teacher's AuditLog model and
// AuditRepository but stripped of its tenant/user columns — this server
// has no multi-tenant identity model, only the client-supplied API key
// internal/dicomweb's request pipeline logs alongside each entry.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entry is one recorded operation.
type Entry struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Action       string    `gorm:"type:varchar(100);not null;index"` // store_instances, delete_study, delete_series, delete_instance
	ResourceUID  string    `gorm:"type:varchar(255);index"`
	ClientKey    string    `gorm:"type:varchar(255);index"`
	Status       string    `gorm:"type:varchar(20);index"` // success, failure, partial
	ErrorMessage string    `gorm:"type:text"`
	Duration     int64     // milliseconds
	CreatedAt    time.Time `gorm:"index"`
}

func (Entry) TableName() string { return "audit_entries" }

func (e *Entry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Trail writes Entry rows. A nil *Trail is a valid, inert no-op — callers
// don't need to branch on whether auditing is enabled.
type Trail struct {
	db *gorm.DB
}

// NewTrail wraps db. AutoMigrate is run once up front.
func NewTrail(db *gorm.DB) (*Trail, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Trail{db: db}, nil
}

// Record writes one audit entry. Failures to write are swallowed after
// being returned to the caller to log — a broken audit sink must never
// fail the DICOMweb operation it is recording.
func (t *Trail) Record(ctx context.Context, e Entry) error {
	if t == nil {
		return nil
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if err := t.db.WithContext(ctx).Create(&e).Error; err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// ForResource retrieves audit entries for a specific study/series/instance
// UID, most recent first.
func (t *Trail) ForResource(ctx context.Context, resourceUID string, limit int) ([]Entry, error) {
	if t == nil {
		return nil, nil
	}
	var entries []Entry
	q := t.db.WithContext(ctx).Where("resource_uid = ?", resourceUID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return entries, nil
}
