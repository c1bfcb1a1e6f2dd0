// Package discover scores a discovery-sourced candidate paper
// against the stored ResearchQuery profiles before it is allowed into
// the ingestion pipeline.
package discover

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"thoth/internal/gateway"
	"thoth/internal/thothmodel"
)

// rubricRecord is the wire shape the LLM rubric call must produce:
// does the candidate satisfy the query's inclusion/exclusion criteria.
type rubricRecord struct {
	Matches   bool    `json:"matches" jsonschema:"whether the candidate satisfies the query's inclusion criteria and none of its exclusion criteria"`
	Score     float64 `json:"score" jsonschema:"a 0 to 1 relevance score for how well the candidate fits the query"`
	Rationale string  `json:"rationale,omitempty" jsonschema:"a short justification for the score"`
}

var rubricSchema *jsonschema.Schema

func init() {
	s, err := jsonschema.For[rubricRecord](nil)
	if err != nil {
		panic("discover: failed to build rubric schema descriptor: " + err.Error())
	}
	rubricSchema = s
}

// Filter gates discovery-sourced candidates on relevance.
type Filter struct {
	gw    *gateway.Gateway
	model string

	// Threshold is the acceptance cutoff (default 0.6).
	Threshold float64

	// LexicalWeight and RubricWeight combine the two scoring signals
	// into the final score; they must sum to 1.0.
	LexicalWeight float64
	RubricWeight  float64
}

// New builds a Filter backed by gw for the LLM rubric stage. model
// selects the model used for rubric scoring.
func New(gw *gateway.Gateway, model string) *Filter {
	return &Filter{
		gw:            gw,
		model:         model,
		Threshold:     0.6,
		LexicalWeight: 0.4,
		RubricWeight:  0.6,
	}
}

// Score implements the score(candidate, queries) -> (best_query,
// score, accept) contract: it evaluates candidate against every
// stored query, combining lexical keyword overlap with an LLM rubric
// call, and returns the best-matching query along with the combined
// score and whether it clears Threshold.
func (f *Filter) Score(ctx context.Context, candidate thothmodel.CandidateMeta, queries []thothmodel.ResearchQuery) (thothmodel.ResearchQuery, float64, bool) {
	var (
		best      thothmodel.ResearchQuery
		bestScore float64
		found     bool
	)
	for _, q := range queries {
		score := f.scoreOne(ctx, candidate, q)
		if !found || score > bestScore {
			best, bestScore, found = q, score, true
		}
	}
	if !found {
		return thothmodel.ResearchQuery{}, 0, false
	}
	return best, bestScore, bestScore >= f.Threshold
}

// scoreOne combines lexical keyword overlap with an LLM rubric
// judgement for one (candidate, query) pair. A rubric-call failure
// degrades to the lexical score alone rather than rejecting the
// candidate outright, matching the resolver's stage-miss philosophy
// in this tree.
func (f *Filter) scoreOne(ctx context.Context, candidate thothmodel.CandidateMeta, q thothmodel.ResearchQuery) float64 {
	lexical := lexicalOverlap(candidate, q)
	if f.gw == nil || f.model == "" {
		return lexical
	}

	rubric, ok := f.callRubric(ctx, candidate, q)
	if !ok {
		return lexical
	}
	if exclusionHit(candidate, q) {
		return 0
	}
	return thothmodel.Clamp01(f.LexicalWeight*lexical + f.RubricWeight*rubric)
}

// lexicalOverlap is the Jaccard overlap between the query's normalized
// keyword set and the tokens of the candidate's title+abstract.
func lexicalOverlap(candidate thothmodel.CandidateMeta, q thothmodel.ResearchQuery) float64 {
	kw := keywordSet(q.Keywords)
	if len(kw) == 0 {
		return 0
	}
	text := tokenSet(candidate.Title + " " + candidate.Abstract)
	if len(text) == 0 {
		return 0
	}
	inter := 0
	for k := range kw {
		if _, ok := text[k]; ok {
			inter++
		}
	}
	union := len(kw) + len(text) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// exclusionHit reports whether any of the query's exclusion criteria
// appear verbatim (case-insensitive) in the candidate's title or
// abstract — a cheap guardrail independent of the rubric call's own
// judgement, so a misjudged rubric score can't override an explicit
// exclusion term.
func exclusionHit(candidate thothmodel.CandidateMeta, q thothmodel.ResearchQuery) bool {
	text := strings.ToLower(candidate.Title + " " + candidate.Abstract)
	for _, ex := range q.Exclude {
		ex = strings.ToLower(strings.TrimSpace(ex))
		if ex != "" && strings.Contains(text, ex) {
			return true
		}
	}
	return false
}

func (f *Filter) callRubric(ctx context.Context, candidate thothmodel.CandidateMeta, q thothmodel.ResearchQuery) (float64, bool) {
	prompt := rubricPrompt(candidate, q)

	raw, err := f.gw.CallStructured(ctx, gateway.StructuredRequest{
		Model:        f.model,
		SystemPrompt: "You evaluate whether a candidate paper matches a researcher's stated interest profile. Respond with JSON matching the schema only.",
		Prompt:       prompt,
		Schema:       rubricSchema,
		CacheKind:    "discover-rubric:" + q.Name,
		TTL:          7 * 24 * time.Hour,
	})
	if err != nil {
		return 0, false
	}
	var rec rubricRecord
	if jsonErr := json.Unmarshal(raw, &rec); jsonErr != nil {
		return 0, false
	}
	if !rec.Matches {
		return 0, true
	}
	return thothmodel.Clamp01(rec.Score), true
}

func rubricPrompt(candidate thothmodel.CandidateMeta, q thothmodel.ResearchQuery) string {
	var b strings.Builder
	b.WriteString("Research query: ")
	b.WriteString(q.Name)
	b.WriteString("\nDescription: ")
	b.WriteString(q.Description)
	if len(q.Include) > 0 {
		b.WriteString("\nInclusion criteria: ")
		b.WriteString(strings.Join(q.Include, "; "))
	}
	if len(q.Exclude) > 0 {
		b.WriteString("\nExclusion criteria: ")
		b.WriteString(strings.Join(q.Exclude, "; "))
	}
	b.WriteString("\n\nCandidate title: ")
	b.WriteString(candidate.Title)
	b.WriteString("\nCandidate abstract: ")
	b.WriteString(candidate.Abstract)
	return b.String()
}

func keywordSet(keywords []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, k := range keywords {
		for _, t := range strings.Fields(normalize(k)) {
			out[t] = struct{}{}
		}
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Fields(normalize(s)) {
		out[t] = struct{}{}
	}
	return out
}

func normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
