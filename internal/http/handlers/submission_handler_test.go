package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-review-backend/internal/domain"
	"github.com/tbourn/go-review-backend/internal/http/middleware"
	"github.com/tbourn/go-review-backend/internal/services"
)

// fakeSvc keeps submissions in memory, keyed like the real service.
type fakeSvc struct {
	subs    map[domain.SubmissionKey][]domain.Version
	uploads int
	err     error
}

func newFakeSvc() *fakeSvc { return &fakeSvc{subs: map[domain.SubmissionKey][]domain.Version{}} }

func (f *fakeSvc) version(n int) domain.Version {
	return domain.Version{
		Number:     n,
		Timestamp:  time.Date(2025, 5, 1, 9, 0, n, 0, time.UTC),
		DocumentID: "doc",
		Results:    domain.Results{Kind: domain.ResultFlat, Payload: []byte(`{"Q1.1":"Yes"}`)},
	}
}

func (f *fakeSvc) Create(_ context.Context, uid string, u services.Upload) (*services.Outcome, error) {
	f.uploads++
	if f.err != nil {
		return nil, f.err
	}
	if len(u.Data) == 0 {
		return nil, services.ErrInvalidUpload
	}
	k := domain.SubmissionKey{Title: services.NormalizeTitle(u.Title), UserID: uid}
	if k.Title == "" {
		return nil, services.ErrEmptyTitle
	}
	if _, ok := f.subs[k]; ok {
		return nil, services.ErrDuplicateTitle
	}
	v := f.version(1)
	f.subs[k] = []domain.Version{v}
	return &services.Outcome{SubmissionID: "s1", Title: k.Title, Version: v, Created: true}, nil
}

func (f *fakeSvc) AddVersion(_ context.Context, uid string, u services.Upload) (*services.Outcome, error) {
	f.uploads++
	k := domain.SubmissionKey{Title: services.NormalizeTitle(u.Title), UserID: uid}
	vs, ok := f.subs[k]
	if !ok {
		return nil, services.ErrSubmissionNotFound
	}
	v := f.version(len(vs) + 1)
	f.subs[k] = append(vs, v)
	return &services.Outcome{SubmissionID: "s1", Title: k.Title, Version: v}, nil
}

func (f *fakeSvc) Analyze(ctx context.Context, uid, filename string, data []byte) (*services.Outcome, error) {
	return f.Create(ctx, uid, services.Upload{Title: "From Metadata", Filename: filename, Data: data})
}

func (f *fakeSvc) ListTitles(_ context.Context, uid string) ([]string, error) {
	out := []string{}
	for k := range f.subs {
		if k.UserID == uid {
			out = append(out, k.Title)
		}
	}
	return out, nil
}

func (f *fakeSvc) ListVersions(_ context.Context, uid, title string) ([]int, error) {
	vs, ok := f.subs[domain.SubmissionKey{Title: services.NormalizeTitle(title), UserID: uid}]
	if !ok {
		return nil, services.ErrSubmissionNotFound
	}
	nums := make([]int, len(vs))
	for i, v := range vs {
		nums[i] = v.Number
	}
	return nums, nil
}

func (f *fakeSvc) GetVersion(_ context.Context, uid, title string, n int) (domain.Version, error) {
	vs, ok := f.subs[domain.SubmissionKey{Title: title, UserID: uid}]
	if !ok {
		return domain.Version{}, services.ErrSubmissionNotFound
	}
	if n > len(vs) {
		return domain.Version{}, services.ErrVersionNotFound
	}
	return vs[n-1], nil
}

func (f *fakeSvc) Stats(_ context.Context, uid string) (int64, *time.Time, error) {
	var n int64
	for k := range f.subs {
		if k.UserID == uid {
			n++
		}
	}
	return n, nil, nil
}

type memIdem map[string]middleware.Replay

func (m memIdem) Remember(_ context.Context, uid, title, key string, version, status int) error {
	m[uid+"|"+title+"|"+key] = middleware.Replay{Title: title, Version: version, Status: status}
	return nil
}

func (m memIdem) lookup(_ context.Context, uid, title, key string, _ time.Time) (middleware.Replay, bool, error) {
	r, ok := m[uid+"|"+title+"|"+key]
	return r, ok, nil
}

func testRouter(svc *fakeSvc, idem memIdem) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Auth(middleware.AuthOptions{AllowHeader: true}))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{
		Title: func(c *gin.Context) string { return services.NormalizeTitle(c.PostForm("title")) },
	}, idem.lookup))
	h := New(svc, idem, func(title string, v domain.Version) ([]byte, error) {
		return []byte("%PDF-1.3 " + title), nil
	})
	r.POST("/submissions", h.CreateSubmission)
	r.POST("/submissions/versions", h.AddVersion)
	r.POST("/analyze", h.Analyze)
	r.GET("/titles", h.ListTitles)
	r.GET("/versions", h.ListVersions)
	r.GET("/versions/:number", h.GetVersion)
	r.GET("/versions/:number/report.pdf", h.VersionReport)
	return r
}

func multipartBody(t *testing.T, title, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		_ = mw.WriteField("title", title)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("pdf", filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(data)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, r http.Handler, method, path, user string, body *bytes.Buffer, ct string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", ct)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(middleware.HeaderUserID, user)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func upload(t *testing.T, r http.Handler, path, user, title string, hdr ...string) *httptest.ResponseRecorder {
	body, ct := multipartBody(t, title, "paper.pdf", []byte("%PDF-1.4 fake"))
	return do(t, r, http.MethodPost, path, user, body, ct, hdr...)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestCreateThenAppend(t *testing.T) {
	svc := newFakeSvc()
	r := testRouter(svc, memIdem{})

	w := upload(t, r, "/submissions", "u1", "My  Paper")
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	created := decode[VersionResponse](t, w)
	if created.Version != 1 || !created.Created || created.Title != "My Paper" || created.SubmissionID == "" {
		t.Fatalf("create body: %+v", created)
	}

	w = upload(t, r, "/submissions", "u1", "My Paper")
	if w.Code != http.StatusConflict || decode[ErrorResponse](t, w).Code != ErrCodeDuplicateTitle {
		t.Fatalf("duplicate: %d %s", w.Code, w.Body.String())
	}

	w = upload(t, r, "/submissions/versions", "u1", "My Paper")
	if w.Code != http.StatusCreated || decode[VersionResponse](t, w).Version != 2 {
		t.Fatalf("append: %d %s", w.Code, w.Body.String())
	}

	w = upload(t, r, "/submissions/versions", "u2", "My Paper")
	if w.Code != http.StatusNotFound {
		t.Fatalf("another user's title must not be visible: %d", w.Code)
	}
	if msg := decode[ErrorResponse](t, w).Message; msg != `submission "My Paper" not found` {
		t.Fatalf("message = %q", msg)
	}
}

func TestUpload_Validation(t *testing.T) {
	r := testRouter(newFakeSvc(), memIdem{})

	body, ct := multipartBody(t, "T", "", nil)
	w := do(t, r, http.MethodPost, "/submissions", "u1", body, ct)
	if w.Code != http.StatusBadRequest || decode[ErrorResponse](t, w).Code != ErrCodeInvalidUpload {
		t.Fatalf("missing file: %d %s", w.Code, w.Body.String())
	}

	w = upload(t, r, "/submissions", "u1", "   ")
	if w.Code != http.StatusBadRequest || decode[ErrorResponse](t, w).Code != ErrCodeInvalidTitle {
		t.Fatalf("blank title: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/submissions", "", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", w.Code)
	}
}

func TestUpload_IdempotentReplay(t *testing.T) {
	svc := newFakeSvc()
	r := testRouter(svc, memIdem{})

	first := upload(t, r, "/submissions", "u1", "Paper", middleware.HeaderIdempotencyKey, "k-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first: %d", first.Code)
	}
	again := upload(t, r, "/submissions", "u1", "Paper", middleware.HeaderIdempotencyKey, "k-1")
	if again.Code != http.StatusCreated || again.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("replay: %d %v", again.Code, again.Header())
	}
	if svc.uploads != 1 {
		t.Fatalf("replay must not reach the service, uploads=%d", svc.uploads)
	}
	if v := decode[VersionResponse](t, again).Version; v != 1 {
		t.Fatalf("replayed version = %d", v)
	}

	// Same key from another user is a fresh request.
	other := upload(t, r, "/submissions", "u2", "Paper", middleware.HeaderIdempotencyKey, "k-1")
	if other.Code != http.StatusCreated || other.Header().Get("Idempotent-Replayed") != "" {
		t.Fatalf("other user: %d %v", other.Code, other.Header())
	}
}

func TestAnalyze(t *testing.T) {
	r := testRouter(newFakeSvc(), memIdem{})
	body, ct := multipartBody(t, "", "scan.PDF", []byte("%PDF"))
	w := do(t, r, http.MethodPost, "/analyze", "u1", body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("analyze: %d %s", w.Code, w.Body.String())
	}
	resp := decode[VersionResponse](t, w)
	if resp.Title != "From Metadata" || resp.Answers["Q1.1"].Answer != "Yes" {
		t.Fatalf("analyze body: %+v", resp)
	}
}

func TestReads(t *testing.T) {
	svc := newFakeSvc()
	r := testRouter(svc, memIdem{})
	upload(t, r, "/submissions", "u1", "Paper")
	upload(t, r, "/submissions/versions", "u1", "Paper")

	w := do(t, r, http.MethodGet, "/titles", "u1", nil, "")
	if w.Code != http.StatusOK || len(decode[TitlesResponse](t, w).Titles) != 1 {
		t.Fatalf("titles: %d %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	if w := do(t, r, http.MethodGet, "/titles", "u1", nil, "", "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("conditional titles: %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/versions?title=Paper", "u1", nil, "")
	if got := decode[VersionsResponse](t, w); len(got.Versions) != 2 || got.Versions[1] != 2 {
		t.Fatalf("versions: %+v", got)
	}

	w = do(t, r, http.MethodGet, "/versions/2?title=Paper", "u1", nil, "")
	if got := decode[VersionResponse](t, w); got.Version != 2 || got.Answers["Q1.1"].Answer != "Yes" {
		t.Fatalf("version: %+v", got)
	}

	for path, want := range map[string]int{
		"/versions/0?title=Paper":  http.StatusBadRequest,
		"/versions/x?title=Paper":  http.StatusBadRequest,
		"/versions/9?title=Paper":  http.StatusNotFound,
		"/versions/1?title=Absent": http.StatusNotFound,
	} {
		if w := do(t, r, http.MethodGet, path, "u1", nil, ""); w.Code != want {
			t.Fatalf("%s: %d want %d", path, w.Code, want)
		}
	}

	w = do(t, r, http.MethodGet, "/versions/1/report.pdf?title=Paper", "u1", nil, "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("report: %d %v", w.Code, w.Header())
	}
}
