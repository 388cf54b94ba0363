package checklist

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tbourn/go-review-backend/internal/domain"
)

// Parse converts raw scoring output into domain.Results.
//
// Surrounding whitespace and a markdown code fence are tolerated. A JSON
// object whose values are all strings is flat; any other JSON object is
// annotated. The object is stored as returned. Anything that is not a JSON
// object becomes a decode failure carrying the original text, so the attempt
// is still persisted.
func Parse(raw string) domain.Results {
	body := []byte(stripFence(raw))
	if !json.Valid(body) {
		return domain.NewDecodeFailure(raw)
	}
	var items map[string]json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil || items == nil {
		return domain.NewDecodeFailure(raw)
	}

	kind := domain.ResultFlat
	for _, v := range items {
		v = bytes.TrimSpace(v)
		if len(v) == 0 || v[0] != '"' {
			kind = domain.ResultAnnotated
			break
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return domain.NewDecodeFailure(raw)
	}
	return domain.Results{Kind: kind, Payload: compact.Bytes()}
}

// stripFence removes a leading ```/```json line and a trailing ``` line.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return s
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
