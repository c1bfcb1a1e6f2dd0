package render

import (
	"strings"
	"testing"

	"thoth/internal/thothmodel"
)

func samplePaper() thothmodel.Paper {
	return thothmodel.Paper{
		ID:       "paper-1",
		Title:    "Attention Is All You Need",
		Authors:  []string{"A. Vaswani", "N. Shazeer"},
		Year:     2017,
		DOI:      "10.0/abc",
		Venue:    "NeurIPS",
		Abstract: "We propose a new architecture.",
		Tags:     []string{"transformers", "nlp"},
		PDFPath:  "papers/attention.pdf",
		Analysis: thothmodel.Analysis{
			Summary:     "Introduces the Transformer.",
			KeyFindings: []string{"Self-attention replaces recurrence"},
			Methodology: "Empirical evaluation on translation tasks.",
			Results:     "State of the art BLEU scores.",
			Limitations: []string{"Quadratic attention cost"},
			RelatedWork: "Builds on attention mechanisms in NMT.",
			Extensions: map[string]any{
				"reproducibility": "Code and checkpoints released.",
			},
		},
	}
}

func sampleCitations() []thothmodel.Citation {
	return []thothmodel.Citation{
		{
			ID:                "c1",
			CitationText:      "raw citation text",
			ExtractedTitle:    "Neural Machine Translation",
			ExtractedAuthors:  []string{"Bahdanau"},
			ExtractedYear:     2014,
			ExtractedVenue:    "ICLR",
			CitedPaperID:      "paper-2",
			ResolverStage:     thothmodel.ResolverDOI,
			ProcessingVersion: 1,
		},
		{
			ID:           "c2",
			CitationText: "some unresolved raw text",
		},
	}
}

func TestRenderIncludesFrontmatterAndSections(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := r.Render(samplePaper(), sampleCitations(), func(c thothmodel.Citation) (string, bool) {
		if c.CitedPaperID == "paper-2" {
			return "papers/paper-2", false
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, want := range []string{
		"Title: Attention Is All You Need",
		"Authors: A. Vaswani, N. Shazeer",
		"Year: 2017",
		"DOI: 10.0/abc",
		"Journal: NeurIPS",
		"Tags: #transformers, #nlp",
		"PDF Link: papers/attention.pdf",
		"## Summary",
		"Introduces the Transformer.",
		"## Key Points",
		"- Self-attention replaces recurrence",
		"## Results",
		"State of the art BLEU scores.",
		"## Limitations",
		"- Quadratic attention cost",
		"## Related Work",
		"Builds on attention mechanisms in NMT.",
		"## reproducibility",
		"Code and checkpoints released.",
		"## Citations",
		"[[papers/paper-2]]",
		"some unresolved raw text",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderMissingFieldsFallBackToNA(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := r.Render(thothmodel.Paper{ID: "bare"}, nil, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, want := range []string{
		"Title: N/A",
		"DOI: N/A",
		"## Summary\nN/A",
		"## Related Work\nN/A",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderExternalCitationLink(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	citations := []thothmodel.Citation{
		{ID: "c1", ExtractedTitle: "Some Paper", ExtractedYear: 2020},
	}
	out, err := r.Render(samplePaper(), citations, func(c thothmodel.Citation) (string, bool) {
		return "https://doi.org/10.1/xyz", true
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "[(2020) Some Paper.](https://doi.org/10.1/xyz)") {
		t.Fatalf("expected external markdown link, got:\n%s", out)
	}
}

func TestRenderBadTemplateReturnsError(t *testing.T) {
	r, err := New("{{.NoSuchField}}")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Render(samplePaper(), nil, nil); err == nil {
		t.Fatalf("expected template execution error, got nil")
	}
}
