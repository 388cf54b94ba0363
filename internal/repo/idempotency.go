package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-review-backend/internal/domain"
)

// GetIdempotency returns a non-expired record for (user, title, key) or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, title, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND title = ? AND key = ? AND expires_at > ?", userID, title, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateIdempotency records the version an upload produced. It returns
// ErrDuplicate when the key was already used for the same (user, title).
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, title, key string, version, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         title,
		Key:           key,
		VersionNumber: version,
		Status:        status,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeIdempotency removes expired records and reports how many were deleted.
func PurgeIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
