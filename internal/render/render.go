// Package render deterministically renders a paper's analysis and
// enriched citations into a markdown note.
package render

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"thoth/internal/thothmodel"
)

// CitationLinkResolver resolves a citation's display link: the vault
// path of the cited paper's note when a local note exists (absolute on
// the local backend), otherwise an external URL when available,
// otherwise empty.
type CitationLinkResolver func(c thothmodel.Citation) (link string, external bool)

// Renderer renders notes with a fixed text/template and FuncMap.
type Renderer struct {
	tmpl *template.Template
}

// New parses the built-in note template (or a caller-supplied
// override, so vault operators can restyle notes without touching
// Go code) and returns a Renderer.
func New(customTemplate string) (*Renderer, error) {
	src := customTemplate
	if src == "" {
		src = defaultTemplate
	}
	tmpl, err := template.New("note").Funcs(funcMap).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse note template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// noteCitation is the template-facing view of one resolved citation.
type noteCitation struct {
	Number    int
	Formatted string
	Link      string
	External  bool
}

// noteData is the template-facing view of the note as a whole.
type noteData struct {
	Paper      thothmodel.Paper
	Analysis   thothmodel.Analysis
	Tags       []string
	Extensions map[string]any
	Citations  []noteCitation
}

// Render produces the markdown note for paper, using resolveLink to
// decide each citation's display link. A template execution error is
// returned to the caller (fatal for the note, not the pipeline, per
// the caller's own error handling); the analysis/citations themselves
// are unaffected.
func (r *Renderer) Render(paper thothmodel.Paper, citations []thothmodel.Citation, resolveLink CitationLinkResolver) (string, error) {
	data := noteData{
		Paper:      paper,
		Analysis:   paper.Analysis,
		Tags:       paper.Tags,
		Extensions: paper.Analysis.Extensions,
	}

	sorted := make([]thothmodel.Citation, len(citations))
	copy(sorted, citations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return citationSortKey(sorted[i]) < citationSortKey(sorted[j])
	})

	for i, c := range sorted {
		var link string
		var external bool
		if resolveLink != nil {
			link, external = resolveLink(c)
		}
		data.Citations = append(data.Citations, noteCitation{
			Number:    i + 1,
			Formatted: formatCitation(c),
			Link:      link,
			External:  external,
		})
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render note for %s: %w", paper.ID, err)
	}
	return buf.String(), nil
}

func citationSortKey(c thothmodel.Citation) string {
	if c.ExtractedTitle != "" {
		return strings.ToLower(c.ExtractedTitle)
	}
	return c.CitationText
}

// formatCitation renders one citation's display string: "Authors
// (Year). Title. Venue." falling back to the raw citation text when
// extraction fields are missing.
func formatCitation(c thothmodel.Citation) string {
	if c.ExtractedTitle == "" {
		return defaultStr(c.CitationText)
	}
	var parts []string
	if len(c.ExtractedAuthors) > 0 {
		parts = append(parts, strings.Join(c.ExtractedAuthors, ", "))
	}
	if c.ExtractedYear != 0 {
		parts = append(parts, fmt.Sprintf("(%d)", c.ExtractedYear))
	}
	parts = append(parts, c.ExtractedTitle+".")
	if c.ExtractedVenue != "" {
		parts = append(parts, c.ExtractedVenue+".")
	}
	return strings.Join(parts, " ")
}

var funcMap = template.FuncMap{
	"default": func(fallback string, v any) string {
		s := stringify(v)
		if s == "" {
			return fallback
		}
		return s
	},
	"hashtags": func(tags []string) string {
		if len(tags) == 0 {
			return "N/A"
		}
		out := make([]string, len(tags))
		for i, t := range tags {
			out[i] = "#" + strings.TrimPrefix(t, "#")
		}
		return strings.Join(out, ", ")
	},
	"join": func(items []string, sep string) string { return strings.Join(items, sep) },
	"citationLink": func(c noteCitation) string {
		if c.Link == "" {
			return fmt.Sprintf("**[%d]** %s", c.Number, c.Formatted)
		}
		if c.External {
			return fmt.Sprintf("**[%d]** [%s](%s)", c.Number, c.Formatted, c.Link)
		}
		return fmt.Sprintf("**[%d]** [[%s]]", c.Number, c.Link)
	},
}

func defaultStr(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case int:
		if t == 0 {
			return "" // a zero year means "unknown", not the year zero
		}
		return fmt.Sprintf("%d", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

const defaultTemplate = `---
Title: {{.Paper.Title | default "N/A"}}
Authors: {{.Paper.Authors | default "N/A"}}
Year: {{.Paper.Year | default "N/A"}}
DOI: {{.Paper.DOI | default "N/A"}}
Journal: {{.Paper.Venue | default "N/A"}}
Tags: {{hashtags .Tags}}
PDF Link: {{.Paper.PDFPath | default "N/A"}}
---

# {{.Paper.Title | default "N/A"}}

## Summary
{{.Analysis.Summary | default "N/A"}}

## Key Points
{{range .Analysis.KeyFindings}}- {{.}}
{{else}}N/A
{{end}}
## Abstract
{{.Paper.Abstract | default "N/A"}}

## Methodology
{{.Analysis.Methodology | default "N/A"}}

## Results
{{.Analysis.Results | default "N/A"}}

## Limitations
{{range .Analysis.Limitations}}- {{.}}
{{else}}N/A
{{end}}
## Related Work
{{.Analysis.RelatedWork | default "N/A"}}
{{range $key, $value := .Extensions}}{{if ne $key "partial"}}
## {{$key}}
{{$value}}
{{end}}{{end}}
## Citations ({{len .Citations}})
{{range .Citations}}- {{citationLink .}}
{{else}}N/A
{{end}}`
