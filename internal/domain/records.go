package domain

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionRecord is the relational form of a Submission. The composite
// unique index on (user_id, title) enforces one submission per pair, and
// LastVersion is the counter that version appends are conditioned on.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID / Title: identity key (unique together).
//   - DocumentID: file instance uploaded at creation.
//   - LastVersion: number of the newest version row.
//   - Versions: child rows, cascade-deleted with the submission.
type SubmissionRecord struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	UserID      string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_submission_user_title,priority:1"`
	Title       string    `gorm:"type:varchar(512);not null;uniqueIndex:ux_submission_user_title,priority:2"`
	DocumentID  string    `gorm:"type:char(36);not null"`
	LastVersion int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null;index"`

	Versions []VersionRecord `gorm:"foreignKey:SubmissionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SubmissionRecord.
func (SubmissionRecord) TableName() string { return "submissions" }

// VersionRecord is one persisted version row. The unique index on
// (submission_id, number) rejects a second row for an already assigned number.
type VersionRecord struct {
	ID           string         `gorm:"type:char(36);primaryKey"`
	SubmissionID string         `gorm:"type:char(36);not null;uniqueIndex:ux_version_submission_number,priority:1"`
	Number       int            `gorm:"not null;uniqueIndex:ux_version_submission_number,priority:2;check:number > 0"`
	DocumentID   string         `gorm:"type:char(36);not null"`
	Checklist    string         `gorm:"type:varchar(32)"`
	Kind         string         `gorm:"type:varchar(32);not null"`
	Results      datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null"`
}

// TableName returns the database table name for VersionRecord.
func (VersionRecord) TableName() string { return "submission_versions" }
