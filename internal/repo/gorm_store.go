package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-review-backend/internal/domain"
)

// GormStore is the relational Store. Submissions and versions live in two
// tables; the last_version column on submissions is the append guard.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by db. The schema must already be
// migrated (see AutoMigrate).
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying handle for idempotency and stats helpers.
func (s *GormStore) DB() *gorm.DB { return s.db }

func byKey(db *gorm.DB, key domain.SubmissionKey) *gorm.DB {
	return db.Where("user_id = ? AND title = ?", key.UserID, key.Title)
}

func (s *GormStore) FindOne(ctx context.Context, key domain.SubmissionKey) (*domain.Submission, error) {
	var rec domain.SubmissionRecord
	err := byKey(s.db.WithContext(ctx), key).
		Preload("Versions", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		First(&rec).Error
	if err != nil {
		return nil, classify(err)
	}
	sub := toSubmission(rec)
	return &sub, nil
}

func (s *GormStore) Head(ctx context.Context, key domain.SubmissionKey) (string, int, error) {
	var head domain.SubmissionRecord
	if err := byKey(s.db.WithContext(ctx), key).Select("id", "last_version").First(&head).Error; err != nil {
		return "", 0, classify(err)
	}
	return head.ID, head.LastVersion, nil
}

func (s *GormStore) DistinctTitles(ctx context.Context, userID string) ([]string, error) {
	titles := []string{}
	err := s.db.WithContext(ctx).
		Model(&domain.SubmissionRecord{}).
		Where("user_id = ?", userID).
		Distinct("title").
		Order("title ASC").
		Pluck("title", &titles).Error
	if err != nil {
		return nil, classify(err)
	}
	return titles, nil
}

func (s *GormStore) Insert(ctx context.Context, sub *domain.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec := domain.SubmissionRecord{
		ID:          sub.ID,
		UserID:      sub.UserID,
		Title:       sub.Title,
		DocumentID:  sub.DocumentID,
		LastVersion: sub.LastVersion(),
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   now,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	for _, v := range sub.Versions {
		rec.Versions = append(rec.Versions, versionRecord(sub.ID, v))
	}
	return classify(s.db.WithContext(ctx).Create(&rec).Error)
}

func (s *GormStore) PushVersion(ctx context.Context, key domain.SubmissionKey, expectedLast int, v domain.Version) error {
	if v.Number != expectedLast+1 {
		return ErrVersionConflict
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head domain.SubmissionRecord
		if err := byKey(tx, key).Select("id", "last_version").First(&head).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.SubmissionRecord{}).
			Where("id = ? AND last_version = ?", head.ID, expectedLast).
			Updates(map[string]any{"last_version": v.Number, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		row := versionRecord(head.ID, v)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrVersionConflict
			}
			return err
		}
		return nil
	})
	return classify(err)
}

func (s *GormStore) Delete(ctx context.Context, key domain.SubmissionKey) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head domain.SubmissionRecord
		err := byKey(tx, key).Select("id").First(&head).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("submission_id = ?", head.ID).Delete(&domain.VersionRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", head.ID).Delete(&domain.SubmissionRecord{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, classify(err)
	}
	return removed, nil
}

func (s *GormStore) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	n, max, err := SubmissionStats(ctx, s.db, userID)
	return n, max, classify(err)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func versionRecord(submissionID string, v domain.Version) domain.VersionRecord {
	return domain.VersionRecord{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Number:       v.Number,
		DocumentID:   v.DocumentID,
		Checklist:    v.Checklist,
		Kind:         string(v.Results.Kind),
		Results:      datatypes.JSON(v.Results.Payload),
		CreatedAt:    v.Timestamp.UTC(),
	}
}

func toSubmission(rec domain.SubmissionRecord) domain.Submission {
	sub := domain.Submission{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Title:      rec.Title,
		DocumentID: rec.DocumentID,
		CreatedAt:  rec.CreatedAt.UTC(),
		Versions:   make([]domain.Version, 0, len(rec.Versions)),
	}
	for _, vr := range rec.Versions {
		sub.Versions = append(sub.Versions, domain.Version{
			Number:     vr.Number,
			Timestamp:  vr.CreatedAt.UTC(),
			DocumentID: vr.DocumentID,
			Checklist:  vr.Checklist,
			Results: domain.Results{
				Kind:    domain.ResultKind(vr.Kind),
				Payload: []byte(vr.Results),
			},
		})
	}
	return sub
}
