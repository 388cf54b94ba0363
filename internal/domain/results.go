package domain

import (
	"bytes"
	"encoding/json"
	"sort"
)

// ResultKind discriminates the shape of a Results payload.
type ResultKind string

const (
	// ResultFlat maps question ids to a bare answer: {"Q1.1": "Yes"}.
	ResultFlat ResultKind = "flat"
	// ResultAnnotated maps question ids to an answer with a justification:
	// {"Q1.1": {"answer": "Yes", "justification": "..."}}.
	ResultAnnotated ResultKind = "annotated"
	// ResultDecodeFailure marks scoring output that was not structured data.
	ResultDecodeFailure ResultKind = "decode_failure"
)

// DecodeFailureMessage is the error text stored with undecodable output.
const DecodeFailureMessage = "Invalid structured output"

// Results is the scored payload of one version. Payload holds the JSON the
// scoring engine returned, verbatim, for flat and annotated results. For a
// decode failure it holds {"error": DecodeFailureMessage, "raw": <text>}.
type Results struct {
	Kind    ResultKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeFailure is the payload stored when scoring output cannot be parsed.
type DecodeFailure struct {
	Error string `json:"error"`
	Raw   string `json:"raw"`
}

// NewDecodeFailure wraps raw scoring output that could not be decoded.
func NewDecodeFailure(raw string) Results {
	b, _ := json.Marshal(DecodeFailure{Error: DecodeFailureMessage, Raw: raw})
	return Results{Kind: ResultDecodeFailure, Payload: b}
}

// Degraded reports whether the results carry a decode failure instead of answers.
func (r Results) Degraded() bool { return r.Kind == ResultDecodeFailure }

// Failure returns the decode-failure payload when r is degraded.
func (r Results) Failure() (DecodeFailure, bool) {
	if r.Kind != ResultDecodeFailure {
		return DecodeFailure{}, false
	}
	var f DecodeFailure
	if err := json.Unmarshal(r.Payload, &f); err != nil {
		return DecodeFailure{Error: DecodeFailureMessage}, true
	}
	return f, true
}

// Answer is the display form of one checklist answer.
type Answer struct {
	Answer        string `json:"answer"`
	Justification string `json:"justification,omitempty"`
}

// Answers returns a tolerant, shape-independent view of the results keyed by
// question id. Entries that match neither shape are skipped; a degraded
// result yields an empty map.
func (r Results) Answers() map[string]Answer {
	out := map[string]Answer{}
	if r.Kind == ResultDecodeFailure || len(r.Payload) == 0 {
		return out
	}
	var items map[string]json.RawMessage
	if err := json.Unmarshal(r.Payload, &items); err != nil {
		return out
	}
	for q, raw := range items {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		switch raw[0] {
		case '"':
			var s string
			if json.Unmarshal(raw, &s) == nil {
				out[q] = Answer{Answer: s}
			}
		case '{':
			var a Answer
			if json.Unmarshal(raw, &a) == nil {
				out[q] = a
			}
		}
	}
	return out
}

// QuestionIDs returns the question ids present in the results, sorted by
// checklist order (Q1.1 < Q1.2 < Q2 < … < Q10).
func (r Results) QuestionIDs() []string {
	ans := r.Answers()
	ids := make([]string, 0, len(ans))
	for q := range ans {
		ids = append(ids, q)
	}
	sort.Slice(ids, func(i, j int) bool { return questionLess(ids[i], ids[j]) })
	return ids
}

// questionLess orders ids like "Q1.2" and "Q10" numerically per segment.
func questionLess(a, b string) bool {
	pa, pb := questionParts(a), questionParts(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	if len(pa) != len(pb) {
		return len(pa) < len(pb)
	}
	return a < b
}

func questionParts(id string) []int {
	var parts []int
	n, seen := 0, false
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int(r-'0')
			seen = true
		case r == '.':
			parts = append(parts, n)
			n, seen = 0, false
		}
	}
	if seen {
		parts = append(parts, n)
	}
	return parts
}
