// Submission HTTP handlers.
//
//   - POST /submissions            (create, multipart title + pdf)
//   - POST /submissions/versions   (append the next version)
//   - POST /analyze                (title taken from PDF metadata)
//   - GET  /titles                 (weak ETag)
//   - GET  /versions?title=
//   - GET  /versions/{number}?title=
//   - GET  /versions/{number}/report.pdf?title=
//
// Handlers stay thin: parse the request, call the service, map the result.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-review-backend/internal/domain"
	"github.com/tbourn/go-review-backend/internal/http/middleware"
	"github.com/tbourn/go-review-backend/internal/services"
	"github.com/tbourn/go-review-backend/internal/utils"
)

// SubmissionService is the lifecycle API the handlers depend on.
type SubmissionService interface {
	Create(ctx context.Context, userID string, u services.Upload) (*services.Outcome, error)
	AddVersion(ctx context.Context, userID string, u services.Upload) (*services.Outcome, error)
	Analyze(ctx context.Context, userID, filename string, data []byte) (*services.Outcome, error)
	ListTitles(ctx context.Context, userID string) ([]string, error)
	ListVersions(ctx context.Context, userID, title string) ([]int, error)
	GetVersion(ctx context.Context, userID, title string, n int) (domain.Version, error)
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

// IdempotencyRecorder remembers which version an Idempotency-Key produced.
type IdempotencyRecorder interface {
	Remember(ctx context.Context, userID, title, key string, version, status int) error
}

// RenderFunc renders one version as a PDF.
type RenderFunc func(title string, v domain.Version) ([]byte, error)

// Handlers groups the submission endpoints.
type Handlers struct {
	svc    SubmissionService
	idem   IdempotencyRecorder
	render RenderFunc
}

// New binds handlers to their collaborators. idem and render may be nil.
func New(svc SubmissionService, idem IdempotencyRecorder, render RenderFunc) *Handlers {
	return &Handlers{svc: svc, idem: idem, render: render}
}

// VersionResponse describes one stored version.
type VersionResponse struct {
	SubmissionID string                   `json:"submission_id,omitempty" example:"6f1c6a43-6c3e-4df4-9b53-5f0b1b4c9a11"`
	Title        string                   `json:"title" example:"Statistical errors in SE experiments"`
	Version      int                      `json:"version" example:"2"`
	Timestamp    time.Time                `json:"timestamp"`
	DocumentID   string                   `json:"document_id"`
	Checklist    string                   `json:"checklist,omitempty" example:"v1-annotated"`
	Kind         domain.ResultKind        `json:"kind" example:"annotated"`
	Degraded     bool                     `json:"degraded"`
	Results      json.RawMessage          `json:"results" swaggertype:"object"`
	Answers      map[string]domain.Answer `json:"answers,omitempty"`
	Created      bool                     `json:"created,omitempty"`
}

// TitlesResponse lists the caller's submission titles.
type TitlesResponse struct {
	Titles []string `json:"titles"`
}

// VersionsResponse lists the version numbers of one submission.
type VersionsResponse struct {
	Title    string `json:"title"`
	Versions []int  `json:"versions"`
}

func versionResponse(title string, v domain.Version, withAnswers bool) VersionResponse {
	resp := VersionResponse{
		Title:      title,
		Version:    v.Number,
		Timestamp:  v.Timestamp,
		DocumentID: v.DocumentID,
		Checklist:  v.Checklist,
		Kind:       v.Results.Kind,
		Degraded:   v.Results.Degraded(),
		Results:    v.Results.Payload,
	}
	if withAnswers && !resp.Degraded {
		resp.Answers = v.Results.Answers()
	}
	return resp
}

// readUpload pulls the "pdf" part out of the multipart body. Size is capped
// upstream by http.MaxBytesReader.
func readUpload(c *gin.Context) (filename string, data []byte, status int, code string, err error) {
	fh, err := c.FormFile("pdf")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return "", nil, http.StatusRequestEntityTooLarge, ErrCodeUploadTooLarge, errors.New("upload is too large")
		}
		return "", nil, http.StatusBadRequest, ErrCodeInvalidUpload, services.ErrInvalidUpload
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, http.StatusBadRequest, ErrCodeInvalidUpload, services.ErrInvalidUpload
	}
	defer f.Close()
	data, err = io.ReadAll(f)
	if err != nil {
		return "", nil, http.StatusBadRequest, ErrCodeInvalidUpload, services.ErrInvalidUpload
	}
	return fh.Filename, data, 0, "", nil
}

// serveReplay answers a repeated Idempotency-Key with the stored version.
func (h *Handlers) serveReplay(c *gin.Context) bool {
	rp, found := middleware.GetReplay(c)
	if !found {
		return false
	}
	v, err := h.svc.GetVersion(c.Request.Context(), middleware.UserID(c), rp.Title, rp.Version)
	if err != nil {
		// The submission was purged since; process the upload normally.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotent replay target missing")
		return false
	}
	c.Header("Idempotent-Replayed", "true")
	ok(c, rp.Status, versionResponse(rp.Title, v, false))
	return true
}

func (h *Handlers) remember(c *gin.Context, out *services.Outcome, status int) {
	key, has := middleware.GetIdempotencyKey(c)
	if !has || h.idem == nil {
		return
	}
	err := h.idem.Remember(c.Request.Context(), middleware.UserID(c), out.Title, key, out.Version.Number, status)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("title", out.Title).Msg("idempotency record not saved")
	}
}

func (h *Handlers) upload(c *gin.Context, intent services.Intent) {
	if h.serveReplay(c) {
		return
	}
	title := c.PostForm("title")
	filename, data, status, code, err := readUpload(c)
	if err != nil {
		fail(c, status, code, err.Error())
		return
	}

	u := services.Upload{Title: title, Filename: filename, Data: data, Intent: intent}
	var out *services.Outcome
	if intent == services.IntentCreate {
		out, err = h.svc.Create(c.Request.Context(), middleware.UserID(c), u)
	} else {
		out, err = h.svc.AddVersion(c.Request.Context(), middleware.UserID(c), u)
	}
	if err != nil {
		failErr(c, err, services.NormalizeTitle(title))
		return
	}

	h.remember(c, out, http.StatusCreated)
	resp := versionResponse(out.Title, out.Version, false)
	resp.SubmissionID, resp.Created = out.SubmissionID, out.Created
	ok(c, http.StatusCreated, resp)
}

// CreateSubmission godoc
// @ID          createSubmission
// @Summary     Create a submission
// @Description Scores the uploaded PDF and stores it as version 1 of a new submission. Rejects a title the caller already uses.
// @Tags        Submissions
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string  false  "Replays the first result for the same key and title"
// @Param       title            formData  string  true   "Submission title"
// @Param       pdf              formData  file    true   "PDF document"
// @Success     201  {object}  handlers.VersionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid upload or title"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate title"
// @Failure     413  {object}  handlers.ErrorResponse  "Upload too large"
// @Failure     422  {object}  handlers.ErrorResponse  "No extractable text"
// @Failure     502  {object}  handlers.ErrorResponse  "Scoring failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /submissions [post]
func (h *Handlers) CreateSubmission(c *gin.Context) { h.upload(c, services.IntentCreate) }

// AddVersion godoc
// @ID          addVersion
// @Summary     Add a version
// @Description Scores the uploaded PDF and appends it as the next version of an existing submission.
// @Tags        Submissions
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string  false  "Replays the first result for the same key and title"
// @Param       title            formData  string  true   "Existing submission title"
// @Param       pdf              formData  file    true   "PDF document"
// @Success     201  {object}  handlers.VersionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid upload or title"
// @Failure     404  {object}  handlers.ErrorResponse  "Submission not found"
// @Failure     502  {object}  handlers.ErrorResponse  "Scoring failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable or busy"
// @Router      /submissions/versions [post]
func (h *Handlers) AddVersion(c *gin.Context) { h.upload(c, services.IntentAppend) }

// Analyze godoc
// @ID          analyze
// @Summary     Analyze a PDF
// @Description Scores the uploaded PDF. The title comes from the document metadata; an existing title gets a new version.
// @Tags        Submissions
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       pdf  formData  file  true  "PDF document"
// @Success     201  {object}  handlers.VersionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid upload"
// @Failure     422  {object}  handlers.ErrorResponse  "No extractable text"
// @Failure     502  {object}  handlers.ErrorResponse  "Scoring failed"
// @Router      /analyze [post]
func (h *Handlers) Analyze(c *gin.Context) {
	filename, data, status, code, err := readUpload(c)
	if err != nil {
		fail(c, status, code, err.Error())
		return
	}
	out, err := h.svc.Analyze(c.Request.Context(), middleware.UserID(c), filename, data)
	if err != nil {
		failErr(c, err, "")
		return
	}
	resp := versionResponse(out.Title, out.Version, true)
	resp.SubmissionID, resp.Created = out.SubmissionID, out.Created
	ok(c, http.StatusCreated, resp)
}

// ListTitles godoc
// @ID          listTitles
// @Summary     List submission titles
// @Description Returns the caller's titles, sorted. Supports a weak ETag via If-None-Match.
// @Tags        Submissions
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "Return 304 if the ETag matches"
// @Success     200  {object}  handlers.TitlesResponse
// @Header      200  {string}  ETag  "Weak ETag for the current list"
// @Success     304  {string}  string  "Not Modified"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /titles [get]
func (h *Handlers) ListTitles(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)

	// ETag is best effort; a stats failure just skips it.
	if count, maxTS, err := h.svc.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"titles:%d:%d"`, count, ts)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	titles, err := h.svc.ListTitles(ctx, uid)
	if err != nil {
		failErr(c, err, "")
		return
	}
	ok(c, http.StatusOK, TitlesResponse{Titles: titles})
}

// ListVersions godoc
// @ID          listVersions
// @Summary     List versions of a submission
// @Tags        Submissions
// @Produce     json
// @Security    BearerAuth
// @Param       title  query  string  true  "Submission title"
// @Success     200  {object}  handlers.VersionsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing title"
// @Failure     404  {object}  handlers.ErrorResponse  "Submission not found"
// @Router      /versions [get]
func (h *Handlers) ListVersions(c *gin.Context) {
	title := c.Query("title")
	nums, err := h.svc.ListVersions(c.Request.Context(), middleware.UserID(c), title)
	if err != nil {
		failErr(c, err, services.NormalizeTitle(title))
		return
	}
	ok(c, http.StatusOK, VersionsResponse{Title: services.NormalizeTitle(title), Versions: nums})
}

func (h *Handlers) version(c *gin.Context) (string, domain.Version, bool) {
	title := services.NormalizeTitle(c.Query("title"))
	n, valid := utils.ParsePositive(c.Param("number"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "version number must be a positive integer")
		return "", domain.Version{}, false
	}
	v, err := h.svc.GetVersion(c.Request.Context(), middleware.UserID(c), title, n)
	if err != nil {
		failErr(c, err, title)
		return "", domain.Version{}, false
	}
	return title, v, true
}

// GetVersion godoc
// @ID          getVersion
// @Summary     Get one version
// @Description Returns the stored results of a version plus a shape-independent answers map.
// @Tags        Submissions
// @Produce     json
// @Security    BearerAuth
// @Param       number  path   int     true  "Version number"  minimum(1)
// @Param       title   query  string  true  "Submission title"
// @Success     200  {object}  handlers.VersionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad version number or title"
// @Failure     404  {object}  handlers.ErrorResponse  "Submission or version not found"
// @Router      /versions/{number} [get]
func (h *Handlers) GetVersion(c *gin.Context) {
	title, v, found := h.version(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, versionResponse(title, v, true))
}

// VersionReport godoc
// @ID          versionReport
// @Summary     Download a version as PDF
// @Tags        Submissions
// @Produce     application/pdf
// @Security    BearerAuth
// @Param       number  path   int     true  "Version number"  minimum(1)
// @Param       title   query  string  true  "Submission title"
// @Success     200  {file}    file
// @Failure     404  {object}  handlers.ErrorResponse  "Submission or version not found"
// @Router      /versions/{number}/report.pdf [get]
func (h *Handlers) VersionReport(c *gin.Context) {
	if h.render == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "reports are disabled")
		return
	}
	title, v, found := h.version(c)
	if !found {
		return
	}
	b, err := h.render(title, v)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("render report")
		fail(c, http.StatusInternalServerError, ErrCodeReportFailed, "could not render report")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="review-v%d.pdf"`, v.Number))
	c.Data(http.StatusOK, "application/pdf", b)
}
