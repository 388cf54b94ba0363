// Package services – SubmissionService
//
// SubmissionService drives one upload through
// RECEIVED -> VALIDATED -> EXTRACTED -> SCORED -> PERSISTED. Validation and
// duplicate detection run before the scoring call wherever the intent allows
// it, because scoring is the expensive step. Each request carries its own
// state through the stages; the service holds only collaborators.
//
// Observability: public methods open OpenTelemetry spans and log stage
// transitions through the request-scoped zerolog logger. Document text and
// raw model output are never logged, only their sizes.
package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-review-backend/internal/checklist"
	"github.com/tbourn/go-review-backend/internal/domain"
	"github.com/tbourn/go-review-backend/internal/extract"
	"github.com/tbourn/go-review-backend/internal/ledger"
	"github.com/tbourn/go-review-backend/internal/scoring"
)

// Intent is what the caller wants an upload to do.
type Intent string

const (
	// IntentCreate starts a new submission; an existing title is rejected.
	IntentCreate Intent = "create"
	// IntentAppend adds the next version to an existing submission.
	IntentAppend Intent = "append"
)

// ParseIntent maps a request value to an Intent.
func ParseIntent(s string) (Intent, error) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentCreate:
		return IntentCreate, nil
	case IntentAppend:
		return IntentAppend, nil
	}
	return "", ErrInvalidIntent
}

// Untitled is the title used by Analyze when the PDF has no Title metadata.
const Untitled = "Untitled"

// Upload is one uploaded document.
type Upload struct {
	Title    string
	Filename string
	Data     []byte
	Intent   Intent
}

// Outcome is the result of a persisted upload.
type Outcome struct {
	SubmissionID string
	Title        string
	Version      domain.Version
	// Created is true when the upload started a new submission.
	Created bool
}

// SubmissionService coordinates extraction, scoring and the version ledger.
type SubmissionService struct {
	Ledger    *ledger.Ledger
	Extractor extract.Extractor
	Scorer    scoring.Scorer
	Template  *checklist.Template

	// ScoringTimeout bounds the scoring call. Local models can take minutes.
	ScoringTimeout time.Duration
	// TitleMaxLen caps titles by rune length; longer titles are rejected.
	TitleMaxLen int
	// NewDocumentID identifies each uploaded file instance.
	NewDocumentID func() string
}

// NewSubmissionService constructs a SubmissionService with defaults.
func NewSubmissionService(l *ledger.Ledger, ex extract.Extractor, sc scoring.Scorer, tpl *checklist.Template) *SubmissionService {
	if tpl == nil {
		tpl = checklist.New(checklist.SchemaAnnotated)
	}
	return &SubmissionService{
		Ledger:         l,
		Extractor:      ex,
		Scorer:         sc,
		Template:       tpl,
		ScoringTimeout: 5 * time.Minute,
		TitleMaxLen:    300,
		NewDocumentID:  uuid.NewString,
	}
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeTitle applies Unicode NFC, trims, and collapses whitespace so
// visually identical titles map to the same submission.
func NormalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
}

func (s *SubmissionService) title(raw string) (string, error) {
	t := NormalizeTitle(raw)
	if t == "" {
		return "", ErrEmptyTitle
	}
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(t) > s.TitleMaxLen {
		return "", ErrTitleTooLong
	}
	return t, nil
}

// validateFile checks presence and the .pdf suffix (case-insensitive).
// Content is not sniffed here; the extractor rejects non-PDF bytes.
func validateFile(filename string, data []byte) error {
	if filename == "" || len(data) == 0 {
		return ErrInvalidUpload
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return ErrInvalidUpload
	}
	return nil
}

// mapLedgerErr converts ledger errors to service errors.
func mapLedgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrNotFound):
		return ErrSubmissionNotFound
	case errors.Is(err, ledger.ErrVersionNotFound):
		return ErrVersionNotFound
	case errors.Is(err, ledger.ErrDuplicate):
		return ErrDuplicateTitle
	case errors.Is(err, ledger.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	case errors.Is(err, ledger.ErrContention):
		return ErrBusy
	}
	return err
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// scored is the per-request pipeline state after SCORED.
type scored struct {
	doc     extract.Document
	results domain.Results
}

// evaluate runs EXTRACTED and SCORED for data.
func (s *SubmissionService) evaluate(ctx context.Context, lg zerolog.Logger, data []byte) (scored, error) {
	doc, err := s.Extractor.Extract(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return scored{}, ctx.Err()
		}
		return scored{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	lg.Debug().Str("stage", "extracted").Int("chars", len(doc.Text)).Int("pages", doc.Pages).Msg("upload")

	sctx, cancel := ctx, context.CancelFunc(func() {})
	if s.ScoringTimeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, s.ScoringTimeout)
	}
	defer cancel()

	start := time.Now()
	raw, err := s.Scorer.Score(sctx, s.Template.Render(doc.Text))
	scoringDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return scored{}, ctx.Err()
		}
		return scored{}, fmt.Errorf("%w: %v", ErrScoringFailed, err)
	}

	results := checklist.Parse(raw)
	if results.Degraded() {
		decodeFailures.Inc()
	}
	lg.Info().Str("stage", "scored").Str("kind", string(results.Kind)).Int("output_bytes", len(raw)).Msg("upload")
	return scored{doc: doc, results: results}, nil
}

func (s *SubmissionService) entry(sc scored) ledger.Entry {
	return ledger.Entry{
		DocumentID: s.NewDocumentID(),
		Checklist:  s.Template.Version,
		Results:    sc.results,
	}
}

func (s *SubmissionService) logger(ctx context.Context, user, title string, intent string) zerolog.Logger {
	return log.Ctx(ctx).With().Str("user_id", user).Str("title", title).Str("intent", intent).Logger()
}

// Create starts a new submission from u. It fails with ErrDuplicateTitle
// before scoring when (title, user) exists, and again after scoring if a
// concurrent create won the race; in both cases nothing is persisted.
func (s *SubmissionService) Create(ctx context.Context, userID string, u Upload) (*Outcome, error) {
	ctx, span := otel.Tracer("services/SubmissionService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if err := validateFile(u.Filename, u.Data); err != nil {
		return nil, err
	}
	title, err := s.title(u.Title)
	if err != nil {
		return nil, err
	}
	key := domain.SubmissionKey{Title: title, UserID: userID}
	lg := s.logger(ctx, userID, title, string(IntentCreate))
	lg.Debug().Str("stage", "validated").Msg("upload")

	exists, err := s.Ledger.Exists(ctx, key)
	if err != nil {
		return nil, fail(span, mapLedgerErr(err))
	}
	if exists {
		duplicateTitles.Inc()
		return nil, ErrDuplicateTitle
	}

	sc, err := s.evaluate(ctx, lg, u.Data)
	if err != nil {
		lg.Warn().Str("stage", "failed").Err(err).Msg("upload")
		return nil, fail(span, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub, err := s.Ledger.Create(ctx, key, s.entry(sc))
	if err != nil {
		err = mapLedgerErr(err)
		if errors.Is(err, ErrDuplicateTitle) {
			duplicateTitles.Inc()
		}
		lg.Warn().Str("stage", "failed").Err(err).Msg("upload")
		return nil, fail(span, err)
	}
	versionsAppended.WithLabelValues(string(IntentCreate)).Inc()
	lg.Info().Str("stage", "persisted").Int("version", 1).Msg("upload")

	return &Outcome{SubmissionID: sub.ID, Title: title, Version: sub.Versions[0], Created: true}, nil
}

// AddVersion scores u and appends it as the next version of (title, user).
// A missing submission is reported before scoring.
func (s *SubmissionService) AddVersion(ctx context.Context, userID string, u Upload) (*Outcome, error) {
	ctx, span := otel.Tracer("services/SubmissionService").Start(ctx, "AddVersion",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if err := validateFile(u.Filename, u.Data); err != nil {
		return nil, err
	}
	title, err := s.title(u.Title)
	if err != nil {
		return nil, err
	}
	key := domain.SubmissionKey{Title: title, UserID: userID}
	lg := s.logger(ctx, userID, title, string(IntentAppend))

	sub, err := s.Ledger.Get(ctx, key)
	if err != nil {
		return nil, fail(span, mapLedgerErr(err))
	}

	sc, err := s.evaluate(ctx, lg, u.Data)
	if err != nil {
		lg.Warn().Str("stage", "failed").Err(err).Msg("upload")
		return nil, fail(span, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err := s.Ledger.Append(ctx, key, s.entry(sc))
	if err != nil {
		err = mapLedgerErr(err)
		lg.Warn().Str("stage", "failed").Err(err).Msg("upload")
		return nil, fail(span, err)
	}
	versionsAppended.WithLabelValues(string(IntentAppend)).Inc()
	lg.Info().Str("stage", "persisted").Int("version", v.Number).Msg("upload")
	span.SetAttributes(attribute.Int("version", v.Number))

	return &Outcome{SubmissionID: sub.ID, Title: title, Version: v}, nil
}

// Process dispatches u on its Intent.
func (s *SubmissionService) Process(ctx context.Context, userID string, u Upload) (*Outcome, error) {
	switch u.Intent {
	case IntentCreate:
		return s.Create(ctx, userID, u)
	case IntentAppend:
		return s.AddVersion(ctx, userID, u)
	}
	return nil, ErrInvalidIntent
}

// Analyze scores a PDF whose title is taken from its metadata and records
// it as a new submission, or as the next version when the title exists.
// It scores before looking at the store and never deletes anything.
func (s *SubmissionService) Analyze(ctx context.Context, userID, filename string, data []byte) (*Outcome, error) {
	ctx, span := otel.Tracer("services/SubmissionService").Start(ctx, "Analyze",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if err := validateFile(filename, data); err != nil {
		return nil, err
	}
	lg := s.logger(ctx, userID, "", "analyze")

	sc, err := s.evaluate(ctx, lg, data)
	if err != nil {
		lg.Warn().Str("stage", "failed").Err(err).Msg("upload")
		return nil, fail(span, err)
	}
	title := NormalizeTitle(sc.doc.Title)
	if title == "" {
		title = Untitled
	}
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		title = string([]rune(title)[:s.TitleMaxLen])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := domain.SubmissionKey{Title: title, UserID: userID}
	lg = lg.With().Str("title", title).Logger()

	sub, err := s.Ledger.Create(ctx, key, s.entry(sc))
	if err == nil {
		versionsAppended.WithLabelValues("analyze").Inc()
		lg.Info().Str("stage", "persisted").Int("version", 1).Msg("upload")
		return &Outcome{SubmissionID: sub.ID, Title: title, Version: sub.Versions[0], Created: true}, nil
	}
	if !errors.Is(err, ledger.ErrDuplicate) {
		return nil, fail(span, mapLedgerErr(err))
	}

	v, err := s.Ledger.Append(ctx, key, s.entry(sc))
	if err != nil {
		return nil, fail(span, mapLedgerErr(err))
	}
	existing, err := s.Ledger.Get(ctx, key)
	if err != nil {
		return nil, fail(span, mapLedgerErr(err))
	}
	versionsAppended.WithLabelValues("analyze").Inc()
	lg.Info().Str("stage", "persisted").Int("version", v.Number).Msg("upload")
	return &Outcome{SubmissionID: existing.ID, Title: title, Version: v}, nil
}

// Score extracts and scores data without persisting anything.
func (s *SubmissionService) Score(ctx context.Context, data []byte) (extract.Document, domain.Results, error) {
	sc, err := s.evaluate(ctx, log.Ctx(ctx).With().Logger(), data)
	return sc.doc, sc.results, err
}

// ListTitles returns the user's submission titles, sorted.
func (s *SubmissionService) ListTitles(ctx context.Context, userID string) ([]string, error) {
	ctx, span := otel.Tracer("services/SubmissionService").Start(ctx, "ListTitles",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	titles, err := s.Ledger.ListTitles(ctx, userID)
	return titles, mapLedgerErr(err)
}

// ListVersions returns the version numbers of (title, user), ascending.
func (s *SubmissionService) ListVersions(ctx context.Context, userID, title string) ([]int, error) {
	ctx, span := otel.Tracer("services/SubmissionService").Start(ctx, "ListVersions",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	t, err := s.title(title)
	if err != nil {
		return nil, err
	}
	nums, err := s.Ledger.ListVersionNumbers(ctx, domain.SubmissionKey{Title: t, UserID: userID})
	return nums, mapLedgerErr(err)
}

// GetVersion returns version n of (title, user).
func (s *SubmissionService) GetVersion(ctx context.Context, userID, title string, n int) (domain.Version, error) {
	ctx, span := otel.Tracer("services/SubmissionService").Start(ctx, "GetVersion",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.Int("version", n)),
	)
	defer span.End()

	t, err := s.title(title)
	if err != nil {
		return domain.Version{}, err
	}
	if n < 1 {
		return domain.Version{}, ErrVersionNotFound
	}
	v, err := s.Ledger.FindVersion(ctx, domain.SubmissionKey{Title: t, UserID: userID}, n)
	return v, mapLedgerErr(err)
}

// Stats returns the count and latest modification time of the user's
// submissions, for conditional responses.
func (s *SubmissionService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	n, max, err := s.Ledger.Stats(ctx, userID)
	return n, max, mapLedgerErr(err)
}

// Purge removes a submission and all of its versions. It is an operator
// action and always scoped by both title and user.
func (s *SubmissionService) Purge(ctx context.Context, userID, title string) (int64, error) {
	t, err := s.title(title)
	if err != nil {
		return 0, err
	}
	n, err := s.Ledger.Delete(ctx, domain.SubmissionKey{Title: t, UserID: userID})
	return n, mapLedgerErr(err)
}

// Ready reports whether the store is reachable.
func (s *SubmissionService) Ready(ctx context.Context) error {
	return s.Ledger.Ping(ctx)
}
