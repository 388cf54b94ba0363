package domain

import "time"

// Idempotency records which version a previously processed upload produced,
// keyed by (user_id, title, key). A retried upload carrying the same key is
// answered with that version instead of being scored and appended again.
type Idempotency struct {
	ID            string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_title_key,priority:1"`
	Title         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_title_key,priority:2"`
	Key           string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_title_key,priority:3"`
	VersionNumber int       `gorm:"type:INTEGER NOT NULL"`
	Status        int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
