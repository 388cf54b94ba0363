package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSubmission_VersionHelpers(t *testing.T) {
	s := Submission{
		Title:  "Paper X",
		UserID: "u1",
		Versions: []Version{
			{Number: 1}, {Number: 3}, {Number: 2},
		},
	}
	if got := s.LastVersion(); got != 3 {
		t.Fatalf("LastVersion = %d; want 3", got)
	}
	if got := s.Numbers(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("Numbers = %v", got)
	}
	if _, ok := s.Version(2); !ok {
		t.Fatalf("expected version 2")
	}
	if _, ok := s.Version(9); ok {
		t.Fatalf("unexpected version 9")
	}
	if (Submission{}).LastVersion() != 0 {
		t.Fatalf("empty submission LastVersion should be 0")
	}
	if s.Key() != (SubmissionKey{Title: "Paper X", UserID: "u1"}) {
		t.Fatalf("Key = %+v", s.Key())
	}
}

func TestSubmissionKey_StringSeparatesFields(t *testing.T) {
	a := SubmissionKey{Title: "b", UserID: "a"}.String()
	b := SubmissionKey{Title: "", UserID: "ab"}.String()
	if a == b {
		t.Fatalf("keys must not collide: %q", a)
	}
}

func TestResults_AnswersFlatAndAnnotated(t *testing.T) {
	flat := Results{Kind: ResultFlat, Payload: json.RawMessage(`{"Q1.1":"Yes","Q2":"N/A"}`)}
	got := flat.Answers()
	if got["Q1.1"].Answer != "Yes" || got["Q2"].Answer != "N/A" {
		t.Fatalf("flat answers = %+v", got)
	}

	ann := Results{Kind: ResultAnnotated, Payload: json.RawMessage(
		`{"Q3":{"answer":"No","justification":"convenience sample"},"Q4":"Yes","Q5":7}`)}
	got = ann.Answers()
	if got["Q3"].Answer != "No" || got["Q3"].Justification != "convenience sample" {
		t.Fatalf("annotated Q3 = %+v", got["Q3"])
	}
	if got["Q4"].Answer != "Yes" {
		t.Fatalf("mixed string entry should be tolerated: %+v", got["Q4"])
	}
	if _, ok := got["Q5"]; ok {
		t.Fatalf("non-conforming entry should be skipped")
	}
}

func TestResults_DecodeFailure(t *testing.T) {
	r := NewDecodeFailure("not json {")
	if !r.Degraded() {
		t.Fatalf("expected degraded")
	}
	f, ok := r.Failure()
	if !ok || f.Error != DecodeFailureMessage || f.Raw != "not json {" {
		t.Fatalf("failure = %+v ok=%v", f, ok)
	}
	if len(r.Answers()) != 0 {
		t.Fatalf("degraded results have no answers")
	}

	var m map[string]string
	if err := json.Unmarshal(r.Payload, &m); err != nil {
		t.Fatalf("payload must be JSON: %v", err)
	}
	if m["error"] != "Invalid structured output" || m["raw"] != "not json {" {
		t.Fatalf("payload = %v", m)
	}

	if _, ok := (Results{Kind: ResultFlat}).Failure(); ok {
		t.Fatalf("flat results are not a failure")
	}
}

func TestResults_QuestionIDsChecklistOrder(t *testing.T) {
	r := Results{Kind: ResultFlat, Payload: json.RawMessage(
		`{"Q10":"Yes","Q2":"No","Q1.2":"Yes","Q1.1":"No","Q9":"N/A"}`)}
	want := []string{"Q1.1", "Q1.2", "Q2", "Q9", "Q10"}
	if got := r.QuestionIDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("QuestionIDs = %v; want %v", got, want)
	}
}
