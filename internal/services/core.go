// Package services assembles every component into one explicitly
// passed handle: Core is built once at process startup by cmd/thothd
// and threaded down to whatever consumes it (an HTTP/MCP transport, a
// CLI, or a test harness). Its exported methods are the operations
// those transports expose — ingest, reingest, search, ask, paper
// lookup and listing, ad-hoc citation resolution — rendered as plain
// Go methods.
package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"thoth/internal/discover"
	"thoth/internal/gateway"
	"thoth/internal/graph"
	"thoth/internal/identity"
	"thoth/internal/pipeline"
	"thoth/internal/ragindex"
	"thoth/internal/relstore"
	"thoth/internal/resolve"
	"thoth/internal/thotherr"
	"thoth/internal/thothmodel"
	"thoth/internal/vault"
	"thoth/internal/watch"
)

// Core bundles every already-constructed collaborator a running Thoth
// process needs. Nothing here is a package-level global; cmd/thothd
// builds one Core and every caller (watcher callback, future HTTP
// handler, test) receives it explicitly.
type Core struct {
	Config   Config
	Gateway  *gateway.Gateway
	Vault    *vault.Vault
	Store    relstore.Store
	Graph    *graph.Graph
	RAG      *ragindex.Index
	Resolver *resolve.Resolver
	Pipeline *pipeline.Pipeline
	Sched    *pipeline.Scheduler
	Discover *discover.Filter
	Monitor  *watch.Monitor
	Log      *logrus.Entry
}

// Config is the subset of internal/config.Config the Core layer itself
// consults directly (QA defaults); everything backend-specific was
// already consumed by the constructors that built Core's fields.
type Config struct {
	QAModel         string
	QAMinSimilarity float64
	QADefaultK      int
}

// Deps bundles every already-constructed collaborator New needs.
type Deps struct {
	Gateway  *gateway.Gateway
	Vault    *vault.Vault
	Store    relstore.Store
	Graph    *graph.Graph
	RAG      *ragindex.Index
	Resolver *resolve.Resolver
	Pipeline *pipeline.Pipeline
	Sched    *pipeline.Scheduler
	Discover *discover.Filter
	Monitor  *watch.Monitor
	Log      *logrus.Entry
}

// New builds a Core from already-constructed collaborators.
func New(cfg Config, d Deps) *Core {
	log := d.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Core{
		Config:   cfg,
		Gateway:  d.Gateway,
		Vault:    d.Vault,
		Store:    d.Store,
		Graph:    d.Graph,
		RAG:      d.RAG,
		Resolver: d.Resolver,
		Pipeline: d.Pipeline,
		Sched:    d.Sched,
		Discover: d.Discover,
		Monitor:  d.Monitor,
		Log:      log,
	}
}

// IngestPDF ingests the PDF at path: resolve it to absolute, compute
// its content hash, and skip re-processing when an active version
// already exists for that hash and force is false, so re-running over
// an unchanged file is a no-op. The check sits here rather than inside
// pipeline.Process because only the caller knows whether this call is
// a deliberate force re-ingestion; watch.Monitor's SeenFunc performs
// the equivalent skip only for paths found by its startup scan, not
// for paths reported by filesystem events.
func (c *Core) IngestPDF(ctx context.Context, path string, force bool) (thothmodel.Paper, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return thothmodel.Paper{}, thotherr.New(thotherr.Fatal, "services.IngestPDF", err)
	}

	if !force {
		if existing, skip := c.existingForPath(ctx, absPath); skip {
			return existing, nil
		}
	}

	res, err := c.Pipeline.Process(ctx, absPath)
	if err != nil {
		return thothmodel.Paper{}, err
	}
	return res.Paper, nil
}

// existingForPath reports (paper, true) when absPath's content hash
// already has an active version, so the caller can return early
// without running the pipeline again. The lookup goes through the
// content-hash index because paper ids are DOI-derived when the paper
// printed one, which only the pipeline's own extraction knows.
func (c *Core) existingForPath(ctx context.Context, absPath string) (thothmodel.Paper, bool) {
	pdfBytes, err := os.ReadFile(absPath)
	if err != nil {
		return thothmodel.Paper{}, false
	}
	contentHash := identity.PaperID("", "", pdfBytes)
	p, ok, err := c.Store.GetPaperByContentHash(ctx, contentHash)
	if err != nil || !ok {
		return thothmodel.Paper{}, false
	}
	if _, active, err := c.Store.GetActiveVersion(ctx, p.ID); err != nil || !active {
		return thothmodel.Paper{}, false
	}
	return p, true
}

// Reingest forces a fresh pipeline run over the paper's already-stored
// PDF, producing a new ProcessingVersion (used after a model or config
// change).
func (c *Core) Reingest(ctx context.Context, paperID string) (thothmodel.Paper, error) {
	p, ok, err := c.Store.GetPaper(ctx, paperID)
	if err != nil {
		return thothmodel.Paper{}, thotherr.New(thotherr.Transient, "services.Reingest", err)
	}
	if !ok {
		return thothmodel.Paper{}, thotherr.New(thotherr.NotFound, "services.Reingest", fmt.Errorf("paper %q not found", paperID))
	}
	return c.IngestPDF(ctx, p.PDFPath, true)
}

// Search runs hybrid retrieval over the index.
func (c *Core) Search(ctx context.Context, query string, k int, filters ragindex.SearchFilters) ([]ragindex.ChunkRef, error) {
	return c.RAG.Search(ctx, query, k, filters)
}

// Ask answers a question from the top-k retrieved chunks.
func (c *Core) Ask(ctx context.Context, question string, k int) (ragindex.Answer, error) {
	if k <= 0 {
		k = c.Config.QADefaultK
	}
	return c.RAG.Ask(ctx, question, k, c.Config.QAMinSimilarity, ragindex.SearchFilters{})
}

// GetPaper returns one paper's current state.
func (c *Core) GetPaper(ctx context.Context, paperID string) (thothmodel.Paper, bool, error) {
	return c.Graph.GetPaper(ctx, paperID)
}

// ListPapers returns papers matching filter, including the failed
// filter that surfaces ingestions which never activated.
func (c *Core) ListPapers(ctx context.Context, filter relstore.PaperFilter) ([]thothmodel.Paper, error) {
	return c.Graph.ListPapers(ctx, filter)
}

// ListFailures surfaces list_papers(filter=failed)'s error detail
// (kind, message, attempts) alongside the coarse status filter above.
func (c *Core) ListFailures(ctx context.Context) ([]relstore.FailureRecord, error) {
	return c.Store.ListFailures(ctx)
}

// ResolveCitation runs the resolution chain for one ad-hoc citation
// string outside of a full document ingestion, against the current
// graph-candidate projection.
func (c *Core) ResolveCitation(ctx context.Context, rawText string) (thothmodel.Citation, error) {
	rows, err := c.Store.ListGraphCandidates(ctx)
	if err != nil {
		return thothmodel.Citation{}, thotherr.New(thotherr.Transient, "services.ResolveCitation", err)
	}
	candidates := make([]resolve.GraphCandidate, 0, len(rows))
	for _, r := range rows {
		candidates = append(candidates, resolve.GraphCandidate{
			PaperID: r.PaperID, Title: r.Title, Authors: r.Authors, Year: r.Year, Venue: r.Venue,
		})
	}
	raw := resolve.RawCitation{CitationText: rawText, ExtractedTitle: rawText}
	return c.Resolver.Resolve(ctx, raw, "", 0, candidates), nil
}

// FilterCandidate scores a discovery-sourced candidate against every
// stored ResearchQuery ahead of ingestion. Callers own fetching
// candidate.PDFURL once accepted.
func (c *Core) FilterCandidate(ctx context.Context, candidate thothmodel.CandidateMeta) (thothmodel.ResearchQuery, float64, bool, error) {
	queries, err := c.Store.ListResearchQueries(ctx)
	if err != nil {
		return thothmodel.ResearchQuery{}, 0, false, thotherr.New(thotherr.Transient, "services.FilterCandidate", err)
	}
	q, score, accept := c.Discover.Score(ctx, candidate, queries)
	return q, score, accept, nil
}

// StartWatcher begins the monitor's directory scan and event loop,
// enqueuing stable PDFs onto the Scheduler.
func (c *Core) StartWatcher(ctx context.Context) error {
	if c.Monitor == nil {
		return nil
	}
	return c.Monitor.Start(ctx)
}

// ScanOrphans runs the startup recovery scan that deletes the chunks
// of every inactive version on record; chunks of a version that never
// committed have no relational row and are not reached by it. Call
// once before serving any traffic.
func (c *Core) ScanOrphans(ctx context.Context) error {
	return c.Graph.ScanOrphans(ctx)
}

// MigrateLegacyPaths rewrites legacy filename-only PDF paths into
// absolute paths by matching basenames against watchDir. A paper's
// PDFPath counts as legacy when it isn't already absolute; its
// basename is looked up under watchDir and, if found, the paper row
// is rewritten in place. Unmatched legacy paths are left untouched
// and logged — this is a best-effort repair, not a hard startup
// precondition.
//
// The rewrite only touches UpsertPaper's invariant fields; it never
// writes a ProcessingVersion or calls Activate, so it cannot advance
// or disturb whatever version is already active for the paper.
func (c *Core) MigrateLegacyPaths(ctx context.Context, watchDir string) error {
	papers, err := c.Store.ListPapers(ctx, relstore.PaperFilter{})
	if err != nil {
		return thotherr.New(thotherr.Transient, "services.MigrateLegacyPaths", err)
	}

	for _, p := range papers {
		if p.PDFPath == "" || filepath.IsAbs(p.PDFPath) {
			continue
		}
		resolved := filepath.Join(watchDir, filepath.Base(p.PDFPath))
		if _, statErr := os.Stat(resolved); statErr != nil {
			c.Log.WithFields(logrus.Fields{
				"paper_id": p.ID,
				"legacy":   p.PDFPath,
			}).Warn("services: legacy path migration found no matching file")
			continue
		}

		p.PDFPath = resolved
		if err := c.rewritePaperPath(ctx, p); err != nil {
			return err
		}
		c.Log.WithFields(logrus.Fields{
			"paper_id": p.ID,
			"resolved": resolved,
		}).Info("services: migrated legacy PDF path")
	}
	return nil
}

func (c *Core) rewritePaperPath(ctx context.Context, p thothmodel.Paper) error {
	tx, err := c.Store.BeginPaperUpdate(ctx)
	if err != nil {
		return thotherr.New(thotherr.Transient, "services.MigrateLegacyPaths", err)
	}
	if err := tx.UpsertPaper(ctx, p); err != nil {
		_ = tx.Rollback(ctx)
		return thotherr.New(thotherr.Transient, "services.MigrateLegacyPaths", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return thotherr.New(thotherr.Transient, "services.MigrateLegacyPaths", err)
	}
	return nil
}
