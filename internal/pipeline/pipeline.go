// Package pipeline runs the per-document stage DAG that turns one PDF
// into an activated ProcessingVersion — OCR, markdown derivation,
// analysis/citation-extraction fan-out, citation resolution, the
// cross-store graph upsert, note rendering and indexing — driven by a
// bounded worker pool across documents.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"thoth/internal/analysis"
	"thoth/internal/config"
	"thoth/internal/gateway"
	"thoth/internal/graph"
	"thoth/internal/identity"
	"thoth/internal/relstore"
	"thoth/internal/render"
	"thoth/internal/resolve"
	"thoth/internal/thotherr"
	"thoth/internal/thothmodel"
	"thoth/internal/vault"
)

// rawCitationsRecord is the wire shape the raw citation extraction
// call must produce: the citing paper's own bibliographic metadata
// plus every reference found in its text. Folding both into one call
// keeps the extraction branch at a single LLM call per document.
type rawCitationsRecord struct {
	Paper     paperMetaEntry     `json:"paper" jsonschema:"the citing paper's own bibliographic metadata"`
	Citations []rawCitationEntry `json:"citations" jsonschema:"every citation found in the paper's bibliography or inline references"`
}

type paperMetaEntry struct {
	Title    string   `json:"title,omitempty" jsonschema:"the paper's title"`
	Authors  []string `json:"authors,omitempty" jsonschema:"the paper's authors, in order"`
	Year     int      `json:"year,omitempty" jsonschema:"publication year, if determinable"`
	Venue    string   `json:"venue,omitempty" jsonschema:"journal or conference, if determinable"`
	DOI      string   `json:"doi,omitempty" jsonschema:"the paper's own DOI, if printed anywhere in the text"`
	ArxivID  string   `json:"arxiv_id,omitempty" jsonschema:"the paper's own arXiv identifier, if present"`
	Abstract string   `json:"abstract,omitempty" jsonschema:"the paper's abstract, verbatim"`
}

type rawCitationEntry struct {
	CitationText  string   `json:"citation_text" jsonschema:"the citation as it appears in the source text"`
	Title         string   `json:"title,omitempty" jsonschema:"the cited work's title, if determinable"`
	Authors       []string `json:"authors,omitempty" jsonschema:"the cited work's author surnames, if determinable"`
	Year          int      `json:"year,omitempty" jsonschema:"the cited work's publication year, if determinable"`
	Venue         string   `json:"venue,omitempty" jsonschema:"the cited work's venue, if determinable"`
	IsInfluential bool     `json:"is_influential,omitempty" jsonschema:"whether the citing text marks this as a particularly significant reference"`
}

var citationsSchema *jsonschema.Schema

func init() {
	s, err := jsonschema.For[rawCitationsRecord](nil)
	if err != nil {
		panic("pipeline: failed to build citations schema descriptor: " + err.Error())
	}
	citationsSchema = s
}

// Pipeline executes the staged ingestion for single documents.
type Pipeline struct {
	cfg config.PipelineConfig

	gw       *gateway.Gateway
	vlt      *vault.Vault
	analysis *analysis.Engine
	resolver *resolve.Resolver
	renderer *render.Renderer
	gr       *graph.Graph
	store    relstore.Store

	citationsModel string
	kafkaWriter    *kafka.Writer
	log            *logrus.Entry
}

// Deps bundles the already-constructed collaborators a Pipeline
// composes; cmd/thothd builds each of these once at startup and wires
// them here.
type Deps struct {
	Gateway   *gateway.Gateway
	Vault     *vault.Vault
	Analysis  *analysis.Engine
	Resolver  *resolve.Resolver
	Renderer  *render.Renderer
	Graph     *graph.Graph
	Store     relstore.Store
	Citations config.CitationsConfig
	Log       *logrus.Entry
}

// New builds a Pipeline. If cfg.EventsBrokerAddr is set, activation
// fires a fire-and-forget "paper.ingested" event at that broker;
// otherwise publishing is skipped entirely.
func New(cfg config.PipelineConfig, d Deps) *Pipeline {
	log := d.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Pipeline{
		cfg:            cfg,
		gw:             d.Gateway,
		vlt:            d.Vault,
		analysis:       d.Analysis,
		resolver:       d.Resolver,
		renderer:       d.Renderer,
		gr:             d.Graph,
		store:          d.Store,
		citationsModel: d.Citations.Model,
		log:            log,
	}
	if cfg.EventsBrokerAddr != "" {
		topic := cfg.EventsTopic
		if topic == "" {
			topic = "paper.ingested"
		}
		p.kafkaWriter = &kafka.Writer{
			Addr:     kafka.TCP(cfg.EventsBrokerAddr),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
			Async:    true,
		}
	}
	return p
}

// Close releases the optional Kafka writer, if one was configured.
func (p *Pipeline) Close() error {
	if p.kafkaWriter != nil {
		return p.kafkaWriter.Close()
	}
	return nil
}

// Result is what one successful Process call produced.
type Result struct {
	Paper   thothmodel.Paper
	Version int
}

// Process runs the full nine-stage DAG for one PDF at path, under a
// per-document deadline so a stalled document can't starve the pool.
// Stage 3 (analysis) and stage 4 (raw citation extraction) run
// concurrently off the same markdown; stage 5 (resolution) depends on
// stage 4 and the stored graph-candidate projection; stages 6-7-8
// (graph upsert, note render, note index) run in that fixed order
// since each depends on the previous one's output; stage 9
// (activation event) is fire-and-forget and never blocks completion.
func (p *Pipeline) Process(ctx context.Context, path string) (Result, error) {
	timeout := time.Duration(p.cfg.DocumentTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Stage 1: read + OCR extract. The content hash is the fallback
	// identity and the re-ingestion check key; the canonical id is
	// derived below once the paper's own DOI/arXiv id is known.
	pdfBytes, err := os.ReadFile(path)
	if err != nil {
		return Result{}, thotherr.New(thotherr.Fatal, "pipeline.Process", err)
	}
	contentHash := identity.PaperID("", "", pdfBytes)
	markdownWithImages, err := p.ocrExtract(ctx, pdfBytes)
	if err != nil {
		return Result{}, err // already a classified thotherr
	}

	// Stage 2: derive the canonical no-images markdown.
	noImages := vault.StripImages(markdownWithImages)

	// Stages 3 and 4 fan out concurrently: analysis and raw citation
	// extraction read the same no-images text and share no mutable
	// state.
	var (
		paperAnalysis thothmodel.Analysis
		strategy      analysis.Strategy
		meta          paperMetaEntry
		rawCitations  []rawCitationEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, s, err := p.analysis.Analyze(gctx, noImages)
		paperAnalysis, strategy = a, s
		if err != nil {
			// analysis failure is non-fatal: the document still
			// activates with a partial analysis.
			p.log.WithError(err).WithField("path", path).Warn("pipeline: analysis degraded to partial")
		}
		return nil
	})
	g.Go(func() error {
		m, rcs, err := p.extractRawCitations(gctx, noImages)
		if err != nil {
			// citation extraction failure is non-fatal: the document
			// activates with no citations rather than failing outright.
			p.log.WithError(err).WithField("path", path).Warn("pipeline: citation extraction skipped")
			return nil
		}
		meta, rawCitations = m, rcs
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, thotherr.New(thotherr.Fatal, "pipeline.Process", err)
	}

	// Canonical identity: DOI if the paper printed one, else arXiv id,
	// else the content hash.
	paperID := identity.PaperID(meta.DOI, meta.ArxivID, pdfBytes)

	pdfPath, err := p.vlt.PutPDF(ctx, paperID, pdfBytes)
	if err != nil {
		return Result{}, thotherr.New(thotherr.Fatal, "pipeline.Process", err)
	}
	withImagesPath, err := p.vlt.PutMarkdown(ctx, paperID, markdownWithImages)
	if err != nil {
		return Result{}, thotherr.New(thotherr.Fatal, "pipeline.Process", err)
	}
	noImagesPath, err := p.vlt.PutMarkdownNoImages(ctx, paperID, noImages)
	if err != nil {
		return Result{}, thotherr.New(thotherr.Fatal, "pipeline.Process", err)
	}

	// Stage 5: resolve each raw citation against the known-paper graph
	// candidate projection.
	version, err := p.store.NextVersion(ctx, paperID)
	if err != nil {
		return Result{}, thotherr.New(thotherr.Transient, "pipeline.Process", err)
	}
	candidates, err := p.store.ListGraphCandidates(ctx)
	if err != nil {
		return Result{}, thotherr.New(thotherr.Transient, "pipeline.Process", err)
	}
	gcands := make([]resolve.GraphCandidate, 0, len(candidates))
	for _, c := range candidates {
		gcands = append(gcands, resolve.GraphCandidate{
			PaperID: c.PaperID, Title: c.Title, Authors: c.Authors, Year: c.Year, Venue: c.Venue,
		})
	}
	citations := make([]thothmodel.Citation, 0, len(rawCitations))
	for _, rc := range rawCitations {
		raw := resolve.RawCitation{
			CitationText:     rc.CitationText,
			ExtractedTitle:   rc.Title,
			ExtractedAuthors: rc.Authors,
			ExtractedYear:    rc.Year,
			ExtractedVenue:   rc.Venue,
			IsInfluential:    rc.IsInfluential,
		}
		citations = append(citations, p.resolver.Resolve(ctx, raw, paperID, version, gcands))
	}
	citations = resolve.Dedup(citations)

	abstract := meta.Abstract
	if abstract == "" {
		abstract = paperAnalysis.Abstract
	}
	paper := thothmodel.Paper{
		ID:                     paperID,
		Title:                  meta.Title,
		Authors:                meta.Authors,
		Year:                   meta.Year,
		Venue:                  meta.Venue,
		DOI:                    meta.DOI,
		ArxivID:                meta.ArxivID,
		Abstract:               abstract,
		Tags:                   paperAnalysis.Tags,
		ContentHash:            contentHash,
		PDFPath:                pdfPath,
		MarkdownPathWithImages: withImagesPath,
		MarkdownPathNoImages:   noImagesPath,
		Analysis:               paperAnalysis,
		EmbeddingsGenerated:    true,
		LLMModelUsed:           p.analysis.Model,
	}
	pv := thothmodel.ProcessingVersion{
		PaperID:  paperID,
		Version:  version,
		LLMModel: p.analysis.Model,
		ProcessingConfig: map[string]any{
			"analysis_model":  p.analysis.Model,
			"citations_model": p.citationsModel,
			"strategy":        string(strategy),
		},
		MarkdownContent: noImages,
		Analysis:        paperAnalysis,
		ProcessedAt:     time.Now(),
	}

	// Stage 6: the cross-store graph/relational/index transaction.
	updated, err := p.gr.UpsertPaper(ctx, graph.UpsertInput{
		Paper:     paper,
		Version:   pv,
		Citations: citations,
		Markdown:  noImages,
	})
	if err != nil {
		kind, _ := thotherr.KindOf(err)
		_ = p.store.RecordFailure(ctx, relstore.FailureRecord{
			PaperID:   paperID,
			ErrorKind: string(kind),
			Message:   err.Error(),
			Attempts:  1,
			UpdatedAt: time.Now(),
		})
		return Result{}, err
	}
	_ = p.store.ClearFailure(ctx, paperID)

	// Stage 7: render the note. Rendering failure does not roll back
	// activation: a missing note is visible, not fatal.
	note, rerr := p.renderer.Render(updated, citations, func(c thothmodel.Citation) (string, bool) {
		if c.CitedPaperID != "" && p.vlt.NoteExists(ctx, c.CitedPaperID) {
			return p.vlt.NotePath(c.CitedPaperID), false
		}
		if c.ResolvedDOI != "" {
			return "https://doi.org/" + c.ResolvedDOI, true
		}
		return "", true
	})
	if rerr != nil {
		p.log.WithError(rerr).WithField("paper_id", paperID).Warn("pipeline: note render failed")
	} else {
		if _, err := p.vlt.PutNote(ctx, paperID, note); err != nil {
			p.log.WithError(err).WithField("paper_id", paperID).Warn("pipeline: note write failed")
		} else if err := p.gr.IndexNote(ctx, paperID, version, note); err != nil {
			// Stage 8: index the rendered note. Indexing failure here is
			// also non-fatal: the paper body is already searchable.
			p.log.WithError(err).WithField("paper_id", paperID).Warn("pipeline: note indexing failed")
		}
	}

	// Stage 9: fire-and-forget activation event.
	p.publishIngested(updated, version)

	return Result{Paper: updated, Version: version}, nil
}

func (p *Pipeline) ocrExtract(ctx context.Context, pdfBytes []byte) (string, error) {
	out, err := p.gw.Call(ctx, "ocr", gateway.Request{
		Method:    "POST",
		Path:      "/extract",
		Body:      map[string]any{"pdf_base64": pdfBytes},
		Cacheable: true,
		TTL:       7 * 24 * time.Hour,
	})
	if err != nil {
		return "", thotherr.New(thotherr.Fatal, "pipeline.ocrExtract", err)
	}
	var resp struct {
		Markdown string `json:"markdown"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", thotherr.New(thotherr.Fatal, "pipeline.ocrExtract", fmt.Errorf("decode OCR response: %w", err))
	}
	return resp.Markdown, nil
}

func (p *Pipeline) extractRawCitations(ctx context.Context, markdown string) (paperMetaEntry, []rawCitationEntry, error) {
	raw, err := p.gw.CallStructured(ctx, gateway.StructuredRequest{
		Model:        p.citationsModel,
		SystemPrompt: "Extract this paper's own bibliographic metadata and every citation from its text. Respond with JSON matching the schema only.",
		Prompt:       markdown,
		Schema:       citationsSchema,
		CacheKind:    "citations",
		TTL:          30 * 24 * time.Hour,
	})
	if err != nil {
		return paperMetaEntry{}, nil, err
	}
	var rec rawCitationsRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return paperMetaEntry{}, nil, thotherr.New(thotherr.SchemaViolation, "pipeline.extractRawCitations", err)
	}
	return rec.Paper, rec.Citations, nil
}

// publishIngested fires a best-effort "paper.ingested" event. It never
// blocks Process's return and never turns into a document failure.
func (p *Pipeline) publishIngested(paper thothmodel.Paper, version int) {
	if p.kafkaWriter == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"paper_id": paper.ID,
		"title":    paper.Title,
		"version":  version,
		"at":       time.Now().UTC(),
	})
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.kafkaWriter.WriteMessages(ctx, kafka.Message{
			Key:   []byte(paper.ID),
			Value: payload,
		}); err != nil {
			p.log.WithError(err).WithField("paper_id", paper.ID).Debug("pipeline: event publish failed")
		}
	}()
}
