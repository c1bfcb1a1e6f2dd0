package discover

import (
	"context"
	"testing"

	"thoth/internal/thothmodel"
)

func TestScoreAcceptsOnLexicalOverlapAlone(t *testing.T) {
	f := New(nil, "") // no gateway/model: falls back to lexical-only scoring
	queries := []thothmodel.ResearchQuery{
		{Name: "transformers", Keywords: []string{"attention", "transformer", "self-attention"}},
	}
	candidate := thothmodel.CandidateMeta{
		Title:    "Attention Is All You Need: A Transformer Architecture",
		Abstract: "We propose a new self-attention mechanism for sequence transduction.",
	}

	best, score, accept := f.Score(context.Background(), candidate, queries)
	if best.Name != "transformers" {
		t.Fatalf("expected best query 'transformers', got %q", best.Name)
	}
	if score <= 0 {
		t.Fatalf("expected positive lexical score, got %v", score)
	}
	_ = accept // threshold-dependent; lexical alone may or may not clear 0.6
}

func TestScoreRejectsWithNoOverlap(t *testing.T) {
	f := New(nil, "")
	queries := []thothmodel.ResearchQuery{
		{Name: "biology", Keywords: []string{"cell", "genome", "protein"}},
	}
	candidate := thothmodel.CandidateMeta{
		Title:    "A Survey of Distributed Consensus Algorithms",
		Abstract: "This paper surveys consensus protocols for distributed systems.",
	}

	_, score, accept := f.Score(context.Background(), candidate, queries)
	if accept {
		t.Fatalf("expected rejection, got score %v accepted", score)
	}
}

func TestScoreWithNoQueriesRejects(t *testing.T) {
	f := New(nil, "")
	_, score, accept := f.Score(context.Background(), thothmodel.CandidateMeta{Title: "anything"}, nil)
	if accept {
		t.Fatalf("expected rejection with no stored queries")
	}
	if score != 0 {
		t.Fatalf("expected score 0 with no queries, got %v", score)
	}
}

func TestScorePicksBestAmongMultipleQueries(t *testing.T) {
	f := New(nil, "")
	queries := []thothmodel.ResearchQuery{
		{Name: "biology", Keywords: []string{"cell", "genome"}},
		{Name: "nlp", Keywords: []string{"attention", "transformer", "language"}},
	}
	candidate := thothmodel.CandidateMeta{
		Title:    "Transformer Language Models",
		Abstract: "A study of attention-based language transformers.",
	}

	best, _, _ := f.Score(context.Background(), candidate, queries)
	if best.Name != "nlp" {
		t.Fatalf("expected best query 'nlp', got %q", best.Name)
	}
}

func TestExclusionHitMatchesExcludeTermCaseInsensitively(t *testing.T) {
	q := thothmodel.ResearchQuery{
		Name:    "nlp-no-surveys",
		Exclude: []string{"survey"},
	}
	candidate := thothmodel.CandidateMeta{
		Title:    "A Survey of Transformer Architectures",
		Abstract: "We survey recent transformer variants.",
	}
	if !exclusionHit(candidate, q) {
		t.Fatalf("expected exclusion hit on 'survey'")
	}
}
