package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-review-backend/internal/domain"
)

func readText(t *testing.T, b []byte) string {
	t.Helper()
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	rd, err := r.GetPlainText()
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rd)
	require.NoError(t, err)
	return buf.String()
}

func TestRender_AnswerTable(t *testing.T) {
	v := domain.Version{
		Number:    3,
		Timestamp: time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC),
		Checklist: "v1-annotated",
		Results: domain.Results{
			Kind:    domain.ResultAnnotated,
			Payload: []byte(`{"Q1.1":{"answer":"Yes","justification":"Stated in section 2"},"Q10":{"answer":"N/A"}}`),
		},
	}
	b, err := Render("Power Analysis", v)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("%PDF")))

	text := readText(t, b)
	assert.Contains(t, text, "Power Analysis")
	assert.Contains(t, text, "Version 3")
	assert.Contains(t, text, "Q1.1")
	assert.Contains(t, text, "Stated in section 2")
}

func TestRender_DecodeFailure(t *testing.T) {
	v := domain.Version{Number: 1, Timestamp: time.Unix(0, 0), Results: domain.NewDecodeFailure("not json at all")}
	b, err := Render("Broken", v)
	require.NoError(t, err)

	text := readText(t, b)
	assert.Contains(t, text, domain.DecodeFailureMessage)
	assert.Contains(t, text, "not json at all")
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 10))
	assert.Equal(t, "abcd...", clip("abcdefghij", 7))
}
