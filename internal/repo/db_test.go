package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-review-backend/internal/domain"
)

// openTestStore opens a migrated temp-file database.
func openTestStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "review.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewGormStore(db), db
}

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "does-not-exist", "review.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}
	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpenSQLite_SetsPragmas_Pool_AndAutoMigrate(t *testing.T) {
	_, db := openTestStore(t)
	sqlDB, _ := db.DB()

	var (
		journalMode string
		fkOn        int
		busyMS      int
	)
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if err := db.Raw("PRAGMA foreign_keys;").Row().Scan(&fkOn); err != nil || fkOn != 1 {
		t.Fatalf("expected foreign_keys=1, got %d (%v)", fkOn, err)
	}
	if err := db.Raw("PRAGMA busy_timeout;").Row().Scan(&busyMS); err != nil || busyMS != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d (%v)", busyMS, err)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	m := db.Migrator()
	for _, tbl := range []any{&domain.SubmissionRecord{}, &domain.VersionRecord{}, &domain.Idempotency{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	now := time.Now().UTC()
	sub := &domain.SubmissionRecord{ID: "s1", UserID: "u1", Title: "t", DocumentID: "d1", LastVersion: 1, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("insert submission: %v", err)
	}
	v := &domain.VersionRecord{ID: "v1", SubmissionID: "s1", Number: 1, DocumentID: "d1", Kind: "flat", Results: datatypes.JSON(`{"Q2":"No"}`), CreatedAt: now}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("insert version: %v", err)
	}
	dup := &domain.VersionRecord{ID: "v2", SubmissionID: "s1", Number: 1, DocumentID: "d2", Kind: "flat", Results: datatypes.JSON(`{}`), CreatedAt: now}
	if err := db.Create(dup).Error; !isUniqueViolation(err) {
		t.Fatalf("expected unique violation for a second version 1, got %v", err)
	}
}

type recordingWriter struct{ lines []string }

func (r *recordingWriter) Printf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestGormLogger_SkipsRecordNotFound(t *testing.T) {
	_, db := openTestStore(t)
	rec := &recordingWriter{}
	quiet := db.Session(&gorm.Session{Logger: newGormLogger(rec)})

	var sub domain.SubmissionRecord
	if err := quiet.Where("id = ?", "missing").First(&sub).Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if len(rec.lines) != 0 {
		t.Fatalf("a miss must not be logged, got %q", rec.lines)
	}

	if err := quiet.Exec("SELECT * FROM no_such_table").Error; err == nil {
		t.Fatalf("expected an error from a missing table")
	}
	if len(rec.lines) != 1 || !strings.Contains(rec.lines[0], "no_such_table") {
		t.Fatalf("real errors must still be logged, got %q", rec.lines)
	}
}

// Compile-time guard to ensure signature stability.
var _ func(string) (*gorm.DB, error) = OpenSQLite
