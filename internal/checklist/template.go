// Package checklist defines the fixed methodological checklist that articles
// are scored against, renders the scoring prompt from it, and parses the
// scoring engine's output into domain.Results.
//
// The checklist has ten items; the first has two parts, giving the question
// keys Q1.1, Q1.2, Q2 … Q10. Two response schemas are supported: a flat
// answer per key, and an answer with a justification per key.
package checklist

import (
	"fmt"
	"strings"
)

// Item is one checklist question.
type Item struct {
	ID   string
	Text string
}

// Items is the checklist in presentation order.
var Items = []Item{
	{"Q1.1", "Are null hypotheses explicitly defined?"},
	{"Q1.2", "Are alternative hypotheses explicitly defined?"},
	{"Q2", "Has the required sample size been calculated?"},
	{"Q3", "Have subjects been randomly selected?"},
	{"Q4", "Have subjects been randomly assigned to treatments?"},
	{"Q5", "Have the test assumptions (i.e., normality and heteroskedasticity) been checked or, at least, discussed?"},
	{"Q6", "Has the definition of linear models been discussed?"},
	{"Q7", "Have the analysis results been interpreted by making reference to relevant statistical concepts, such as p-values, confidence intervals, and power?"},
	{"Q8", "Do researchers avoid calculating and discussing post hoc power?"},
	{"Q9", "Is multiple testing, e.g., Bonferroni correction, reported and accounted for?"},
	{"Q10", "Are descriptive statistics, such as means and counts, reported?"},
}

// Answers allowed for every question.
var Answers = []string{"Yes", "No", "N/A"}

// Schema selects the response shape requested from the scoring engine.
type Schema string

const (
	SchemaFlat      Schema = "flat"
	SchemaAnnotated Schema = "annotated"
)

// ParseSchema maps a config value to a Schema.
func ParseSchema(s string) (Schema, error) {
	switch Schema(strings.ToLower(strings.TrimSpace(s))) {
	case SchemaFlat:
		return SchemaFlat, nil
	case SchemaAnnotated, "":
		return SchemaAnnotated, nil
	}
	return "", fmt.Errorf("checklist: unknown schema %q", s)
}

const roleFraming = "You are a scientific reviewer specialized in experimental software engineering."

// Prompt is a rendered two-message chat prompt.
type Prompt struct {
	System string
	User   string
}

// Template renders scoring prompts for one schema. The zero value is not
// usable; construct with New.
type Template struct {
	Schema Schema
	// Version identifies this template revision on every persisted version.
	Version string

	instructions string
}

// New builds a template for the given schema. Rendering is deterministic:
// the same text always yields the same prompt.
func New(schema Schema) *Template {
	t := &Template{Schema: schema, Version: "v1-" + string(schema)}
	t.instructions = t.buildInstructions()
	return t
}

// Render returns the prompt for the extracted article text.
func (t *Template) Render(text string) Prompt {
	return Prompt{
		System: roleFraming + " Respond ONLY in valid JSON format. Do not include explanations or markdown.",
		User:   t.instructions + text,
	}
}

func (t *Template) buildInstructions() string {
	var b strings.Builder
	b.WriteString(roleFraming)
	b.WriteString(" Your task is to evaluate a scientific article based on a 10-question checklist (Q1.1 to Q10). ")
	switch t.Schema {
	case SchemaFlat:
		b.WriteString("For each question, provide your answer in the format 'Yes', 'No', or 'N/A', based on the content of the provided article text.\n\n")
		b.WriteString("The output must be in JSON format, with each question as a key (e.g., 'Q1.1', 'Q2', ..., 'Q10') and the corresponding answer as the value.\n\n")
	default:
		b.WriteString("For each question, provide an answer in the format 'Yes', 'No', or 'N/A' and a one-sentence justification grounded in the provided article text.\n\n")
		b.WriteString("The output must be in JSON format, with each question as a key (e.g., 'Q1.1', 'Q2', ..., 'Q10') and an object with the fields \"answer\" and \"justification\" as the value.\n\n")
	}
	b.WriteString("For example, the output should look like this:\n")
	b.WriteString(t.example())
	b.WriteString("\n\nChecklist:\n")
	for _, it := range Items {
		b.WriteString(it.ID)
		b.WriteByte(' ')
		b.WriteString(it.Text)
		b.WriteByte('\n')
	}
	b.WriteString("\nNow evaluate this article text:\n\n")
	return b.String()
}

// example renders the sample output block in the template's schema.
func (t *Template) example() string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, it := range Items {
		ans := Answers[i%len(Answers)]
		switch t.Schema {
		case SchemaFlat:
			fmt.Fprintf(&b, "    %q: %q", it.ID, ans)
		default:
			fmt.Fprintf(&b, "    %q: {\"answer\": %q, \"justification\": \"...\"}", it.ID, ans)
		}
		if i < len(Items)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}")
	return b.String()
}
