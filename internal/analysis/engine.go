// Package analysis performs structured extraction of a paper's
// summary, findings, methodology, and limitations from its no-images
// markdown, choosing a direct/refine/map-reduce strategy by how the
// document's token count compares to the model's context window.
package analysis

import (
	"context"
	"encoding/json"
	"strings"

	"thoth/internal/gateway"
	"thoth/internal/textsplitters"
	"thoth/internal/thotherr"
	"thoth/internal/thothmodel"
	"thoth/internal/util"
)

// Strategy identifies which of the three extraction strategies ran.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyRefine    Strategy = "refine"
	StrategyMapReduce Strategy = "map_reduce"
)

const (
	directRatio        = 0.8
	refineRatio        = 1.2
	chunkOverlapTokens = 200
)

// Engine runs structured extraction against a configured LLM-backed gateway.
type Engine struct {
	gw            *gateway.Gateway
	Model         string
	ContextTokens int // model's context window, in tokens
}

// New builds an Engine. model names the model CallStructured should
// target; contextTokens is that model's context window.
func New(gw *gateway.Gateway, model string, contextTokens int) *Engine {
	if contextTokens <= 0 {
		contextTokens = 8192
	}
	return &Engine{gw: gw, Model: model, ContextTokens: contextTokens}
}

// Analyze produces a structured Analysis from markdown: direct for
// short documents, refine for moderately long ones, map-reduce beyond
// that. A SchemaViolation from the underlying call is non-fatal: it
// returns an empty Analysis with Extensions["partial"]="true" rather
// than propagating the error, and the caller ingests the document as
// partial.
func (e *Engine) Analyze(ctx context.Context, markdown string) (thothmodel.Analysis, Strategy, error) {
	tokens := estimateTokens(markdown)
	direct := float64(e.ContextTokens) * directRatio
	refine := float64(e.ContextTokens) * refineRatio

	var a thothmodel.Analysis
	var strategy Strategy
	var err error
	switch {
	case float64(tokens) <= direct:
		strategy = StrategyDirect
		a, err = e.analyzeChunk(ctx, markdown)
	case float64(tokens) <= refine:
		strategy = StrategyRefine
		a, err = e.refine(ctx, markdown)
	default:
		strategy = StrategyMapReduce
		a, err = e.mapReduce(ctx, markdown)
	}

	if err == nil {
		return a, strategy, nil
	}
	if thotherr.Is(err, thotherr.SchemaViolation) {
		return thothmodel.Analysis{Extensions: map[string]any{"partial": "true"}}, strategy, nil
	}
	return thothmodel.Analysis{}, strategy, err
}

func (e *Engine) chunks(markdown string) []string {
	splitter, err := textsplitters.NewFromConfig(textsplitters.Config{
		Kind: textsplitters.KindRecursive,
		Recursive: textsplitters.RecursiveConfig{
			Paragraphs: textsplitters.BoundaryConfig{Unit: textsplitters.UnitTokens, Size: e.ContextTokens / 4, Overlap: chunkOverlapTokens},
			Sentences:  textsplitters.BoundaryConfig{Unit: textsplitters.UnitTokens, Size: e.ContextTokens / 4, Overlap: chunkOverlapTokens},
		},
	})
	if err != nil {
		return []string{markdown}
	}
	chunks := splitter.Split(markdown)
	if len(chunks) == 0 {
		return []string{markdown}
	}
	return chunks
}

func (e *Engine) analyzeChunk(ctx context.Context, text string) (thothmodel.Analysis, error) {
	out, err := e.gw.CallStructured(ctx, gateway.StructuredRequest{
		Model:        e.Model,
		SystemPrompt: "Extract a structured analysis of the following paper text. Respond with JSON only.",
		Prompt:       text,
		Schema:       Schema,
	})
	if err != nil {
		return thothmodel.Analysis{}, err
	}
	return decode(out)
}

func (e *Engine) refine(ctx context.Context, markdown string) (thothmodel.Analysis, error) {
	chunks := e.chunks(markdown)
	running, err := e.analyzeChunk(ctx, chunks[0])
	if err != nil {
		return thothmodel.Analysis{}, err
	}
	for _, c := range chunks[1:] {
		prompt := "Current analysis (JSON):\n" + encode(running) + "\n\nRefine it using this additional section:\n" + c
		out, err := e.gw.CallStructured(ctx, gateway.StructuredRequest{
			Model:        e.Model,
			SystemPrompt: "Refine the running structured analysis with the new section. Respond with JSON only.",
			Prompt:       prompt,
			Schema:       Schema,
		})
		if err != nil {
			return running, nil // keep last good running analysis on a stage miss
		}
		next, derr := decode(out)
		if derr == nil {
			running = next
		}
	}
	return running, nil
}

func (e *Engine) mapReduce(ctx context.Context, markdown string) (thothmodel.Analysis, error) {
	chunks := e.chunks(markdown)
	partials := make([]thothmodel.Analysis, 0, len(chunks))
	for _, c := range chunks {
		a, err := e.analyzeChunk(ctx, c)
		if err != nil {
			continue
		}
		partials = append(partials, a)
	}
	if len(partials) == 0 {
		return thothmodel.Analysis{}, nil
	}
	merged := Reduce(partials)

	encoded := make([]string, len(partials))
	for i, p := range partials {
		encoded[i] = encode(p)
	}
	prompt := "Merge and deduplicate this set of partial analyses (JSON array) into one coherent analysis:\n[" + strings.Join(encoded, ",") + "]"
	out, err := e.gw.CallStructured(ctx, gateway.StructuredRequest{
		Model:        e.Model,
		SystemPrompt: "You are merging partial paper analyses produced independently per section. Respond with JSON only.",
		Prompt:       prompt,
		Schema:       Schema,
	})
	if err != nil {
		return merged, nil
	}
	reduced, derr := decode(out)
	if derr != nil {
		return merged, nil
	}
	return reduced, nil
}

// Reduce merges partial analyses by deduplicating list fields on
// normalized equality and concatenating narrative fields by section.
// It is exported so the pipeline can use it directly when a reduce
// call isn't warranted.
func Reduce(partials []thothmodel.Analysis) thothmodel.Analysis {
	var out thothmodel.Analysis
	seenFindings := map[string]struct{}{}
	seenLimitations := map[string]struct{}{}
	seenTags := map[string]struct{}{}
	var summaries, methodologies, results, related []string

	for _, p := range partials {
		if p.Summary != "" {
			summaries = append(summaries, p.Summary)
		}
		if p.Methodology != "" {
			methodologies = append(methodologies, p.Methodology)
		}
		if p.Results != "" {
			results = append(results, p.Results)
		}
		if p.RelatedWork != "" {
			related = append(related, p.RelatedWork)
		}
		if out.Abstract == "" && p.Abstract != "" {
			// the abstract appears once, in whichever chunk held the
			// document head; later chunks can't improve on it
			out.Abstract = p.Abstract
		}
		for _, f := range p.KeyFindings {
			k := strings.ToLower(strings.TrimSpace(f))
			if _, ok := seenFindings[k]; !ok && k != "" {
				seenFindings[k] = struct{}{}
				out.KeyFindings = append(out.KeyFindings, f)
			}
		}
		for _, l := range p.Limitations {
			k := strings.ToLower(strings.TrimSpace(l))
			if _, ok := seenLimitations[k]; !ok && k != "" {
				seenLimitations[k] = struct{}{}
				out.Limitations = append(out.Limitations, l)
			}
		}
		for _, t := range p.Tags {
			k := strings.ToLower(strings.TrimSpace(t))
			if _, ok := seenTags[k]; !ok && k != "" {
				seenTags[k] = struct{}{}
				out.Tags = append(out.Tags, t)
			}
		}
	}
	out.Summary = strings.Join(summaries, " ")
	out.Methodology = strings.Join(methodologies, " ")
	out.Results = strings.Join(results, " ")
	out.RelatedWork = strings.Join(related, " ")
	return out
}

func decode(raw json.RawMessage) (thothmodel.Analysis, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return thothmodel.Analysis{}, err
	}
	ext := map[string]any{}
	for k, v := range r.Extensions {
		ext[k] = v
	}
	return thothmodel.Analysis{
		Summary:     r.Summary,
		KeyFindings: r.KeyFindings,
		Abstract:    r.Abstract,
		Methodology: r.Methodology,
		Results:     r.Results,
		Limitations: r.Limitations,
		RelatedWork: r.RelatedWork,
		Tags:        r.Tags,
		Extensions:  ext,
	}, nil
}

func encode(a thothmodel.Analysis) string {
	r := record{
		Summary:     a.Summary,
		KeyFindings: a.KeyFindings,
		Abstract:    a.Abstract,
		Methodology: a.Methodology,
		Results:     a.Results,
		Limitations: a.Limitations,
		RelatedWork: a.RelatedWork,
		Tags:        a.Tags,
	}
	b, _ := json.Marshal(r)
	return string(b)
}

// estimateTokens approximates token count. Punctuation-aware word
// counting tracks real tokenizer output more closely than whitespace
// splitting on reference-heavy academic text, and the strategy
// thresholds only need the ratio, not an exact count.
func estimateTokens(text string) int {
	return util.CountTokens(text)
}
