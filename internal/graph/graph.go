// Package graph owns the citation graph: the cross-store transaction
// that keeps the relational store (internal/relstore), the graph
// mirror (databases.GraphDB), and the vector/lexical index
// (internal/ragindex) consistent for one paper update.
package graph

import (
	"context"
	"fmt"
	"time"

	"thoth/internal/persistence/databases"
	"thoth/internal/ragindex"
	"thoth/internal/relstore"
	"thoth/internal/thotherr"
	"thoth/internal/thothmodel"
)

// Direction selects which edge direction Neighbors traverses.
type Direction string

const (
	DirectionOut  Direction = "out" // papers this paper cites
	DirectionIn   Direction = "in"  // papers that cite this paper
	DirectionBoth Direction = "both"
)

const (
	relCites   = "cites"
	relCitedBy = "cited_by"
)

// Graph coordinates the three stores behind the citation graph.
type Graph struct {
	store relstore.Store
	gdb   databases.GraphDB
	rag   *ragindex.Index
}

// New builds a Graph over its three backing stores.
func New(store relstore.Store, gdb databases.GraphDB, rag *ragindex.Index) *Graph {
	return &Graph{store: store, gdb: gdb, rag: rag}
}

// UpsertInput bundles everything one paper update needs: the
// invariant-across-versions paper fields, the new version snapshot,
// its raw citations, and the canonical (no-images) markdown to index
// as this version's paper-body chunks.
type UpsertInput struct {
	Paper     thothmodel.Paper
	Version   thothmodel.ProcessingVersion
	Citations []thothmodel.Citation
	Markdown  string
}

// UpsertPaper runs the six-step cross-store update: write the paper
// row and a new inactive version, write its citations, mirror the
// graph, index the version's chunks, then activate and commit —
// rolling back and deleting any partially written chunks if indexing
// fails, and garbage-collecting the superseded version's chunks once
// the new version is live.
func (g *Graph) UpsertPaper(ctx context.Context, in UpsertInput) (thothmodel.Paper, error) {
	prevVersion, hadPrev, err := g.store.GetActiveVersion(ctx, in.Paper.ID)
	if err != nil {
		return thothmodel.Paper{}, thotherr.New(thotherr.Transient, "graph.UpsertPaper", err)
	}

	tx, err := g.store.BeginPaperUpdate(ctx)
	if err != nil {
		return thothmodel.Paper{}, thotherr.New(thotherr.Transient, "graph.UpsertPaper", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	in.Paper.ProcessingVersion = in.Version.Version
	if err := tx.UpsertPaper(ctx, in.Paper); err != nil {
		return thothmodel.Paper{}, thotherr.New(thotherr.IntegrityError, "graph.UpsertPaper", err)
	}
	if err := tx.InsertVersion(ctx, in.Version); err != nil {
		return thothmodel.Paper{}, thotherr.New(thotherr.IntegrityError, "graph.UpsertPaper", err)
	}
	if err := tx.InsertCitations(ctx, in.Paper.ID, in.Version.Version, in.Citations); err != nil {
		return thothmodel.Paper{}, thotherr.New(thotherr.IntegrityError, "graph.UpsertPaper", err)
	}

	if err := g.syncMirror(ctx, in.Paper, in.Citations); err != nil {
		return thothmodel.Paper{}, thotherr.New(thotherr.Conflict, "graph.UpsertPaper", err)
	}

	if _, err := g.rag.IndexVersion(ctx, in.Paper.ID, in.Version.Version, in.Markdown, thothmodel.SourcePaperBody); err != nil {
		_ = g.rag.DeleteVersion(ctx, in.Paper.ID, in.Version.Version, thothmodel.SourcePaperBody)
		return thothmodel.Paper{}, thotherr.New(thotherr.Fatal, "graph.UpsertPaper", err)
	}

	if err := tx.Activate(ctx, in.Paper.ID, in.Version.Version); err != nil {
		_ = g.rag.DeleteVersion(ctx, in.Paper.ID, in.Version.Version, thothmodel.SourcePaperBody)
		return thothmodel.Paper{}, thotherr.New(thotherr.IntegrityError, "graph.UpsertPaper", err)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = g.rag.DeleteVersion(ctx, in.Paper.ID, in.Version.Version, thothmodel.SourcePaperBody)
		return thothmodel.Paper{}, thotherr.New(thotherr.IntegrityError, "graph.UpsertPaper", err)
	}
	committed = true

	if hadPrev && prevVersion.Version != in.Version.Version {
		_ = g.rag.DeleteVersion(ctx, in.Paper.ID, prevVersion.Version, thothmodel.SourcePaperBody)
		_ = g.rag.DeleteVersion(ctx, in.Paper.ID, prevVersion.Version, thothmodel.SourceGeneratedNote)
	}

	p, _, err := g.store.GetPaper(ctx, in.Paper.ID)
	return p, err
}

// IndexNote indexes a rendered note's text as this version's
// generated-note chunks, separately from the transactional paper-body
// write: the note doesn't exist until after the upsert has already
// committed.
func (g *Graph) IndexNote(ctx context.Context, paperID string, version int, noteMarkdown string) error {
	_, err := g.rag.IndexVersion(ctx, paperID, version, noteMarkdown, thothmodel.SourceGeneratedNote)
	return err
}

// AddCitations replaces the citation edges for an already-written
// version, for callers that resolve citations independently of a full
// paper re-ingestion.
func (g *Graph) AddCitations(ctx context.Context, citingID string, version int, citations []thothmodel.Citation) error {
	tx, err := g.store.BeginPaperUpdate(ctx)
	if err != nil {
		return thotherr.New(thotherr.Transient, "graph.AddCitations", err)
	}
	if err := tx.InsertCitations(ctx, citingID, version, citations); err != nil {
		_ = tx.Rollback(ctx)
		return thotherr.New(thotherr.IntegrityError, "graph.AddCitations", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return thotherr.New(thotherr.IntegrityError, "graph.AddCitations", err)
	}
	p, ok, err := g.store.GetPaper(ctx, citingID)
	if err != nil || !ok {
		return nil
	}
	return g.syncMirror(ctx, p, citations)
}

// SetActiveVersion atomically activates version and deactivates
// whatever version was previously active, without touching citations
// or the index.
func (g *Graph) SetActiveVersion(ctx context.Context, paperID string, version int) error {
	tx, err := g.store.BeginPaperUpdate(ctx)
	if err != nil {
		return thotherr.New(thotherr.Transient, "graph.SetActiveVersion", err)
	}
	if err := tx.Activate(ctx, paperID, version); err != nil {
		_ = tx.Rollback(ctx)
		return thotherr.New(thotherr.IntegrityError, "graph.SetActiveVersion", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return thotherr.New(thotherr.IntegrityError, "graph.SetActiveVersion", err)
	}
	return nil
}

// GetPaper returns a paper's current state.
func (g *Graph) GetPaper(ctx context.Context, paperID string) (thothmodel.Paper, bool, error) {
	return g.store.GetPaper(ctx, paperID)
}

// ListPapers returns papers matching filter.
func (g *Graph) ListPapers(ctx context.Context, filter relstore.PaperFilter) ([]thothmodel.Paper, error) {
	return g.store.ListPapers(ctx, filter)
}

// Neighbors returns paper ids reachable from paperID within depth hops
// in the requested direction.
func (g *Graph) Neighbors(ctx context.Context, paperID string, direction Direction, depth int) ([]string, error) {
	if depth <= 0 {
		depth = 1
	}
	rels := relsFor(direction)

	seen := map[string]bool{paperID: true}
	frontier := []string{paperID}
	var out []string
	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			for _, rel := range rels {
				ns, err := g.gdb.Neighbors(ctx, id, rel)
				if err != nil {
					return nil, thotherr.New(thotherr.Transient, "graph.Neighbors", err)
				}
				for _, n := range ns {
					if seen[n] {
						continue
					}
					seen[n] = true
					out = append(out, n)
					next = append(next, n)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return out, nil
}

func relsFor(d Direction) []string {
	switch d {
	case DirectionIn:
		return []string{relCitedBy}
	case DirectionBoth:
		return []string{relCites, relCitedBy}
	default:
		return []string{relCites}
	}
}

// syncMirror upserts the graph node for paper and one edge per
// resolved citation in both directions, so Neighbors can answer
// "out" and "in" queries with a single-hop lookup.
func (g *Graph) syncMirror(ctx context.Context, paper thothmodel.Paper, citations []thothmodel.Citation) error {
	if err := g.gdb.UpsertNode(ctx, paper.ID, []string{"Paper"}, map[string]any{
		"title": paper.Title,
		"year":  paper.Year,
		"venue": paper.Venue,
	}); err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	for _, c := range citations {
		if c.CitedPaperID == "" {
			continue
		}
		if err := g.gdb.UpsertEdge(ctx, paper.ID, relCites, c.CitedPaperID, map[string]any{
			"influential": c.IsInfluential,
			"confidence":  c.Confidence,
		}); err != nil {
			return fmt.Errorf("upsert edge: %w", err)
		}
		if err := g.gdb.UpsertEdge(ctx, c.CitedPaperID, relCitedBy, paper.ID, map[string]any{
			"influential": c.IsInfluential,
			"confidence":  c.Confidence,
		}); err != nil {
			return fmt.Errorf("upsert reverse edge: %w", err)
		}
	}
	return nil
}

// ScanOrphans deletes from the index the chunks of every version whose
// relational row is inactive, which covers superseded versions whose
// post-commit chunk GC did not finish. It finds versions through their
// relational rows only: chunks written for a version that never
// committed (a crash before activation) have no row and are not
// deleted by this scan. Called once at startup.
func (g *Graph) ScanOrphans(ctx context.Context) error {
	cutoff := time.Now().Add(100 * 365 * 24 * time.Hour)
	keys, err := g.store.InactiveVersionsOlderThan(ctx, cutoff)
	if err != nil {
		return thotherr.New(thotherr.Transient, "graph.ScanOrphans", err)
	}
	for _, k := range keys {
		_ = g.rag.DeleteVersion(ctx, k.PaperID, k.Version, thothmodel.SourcePaperBody)
		_ = g.rag.DeleteVersion(ctx, k.PaperID, k.Version, thothmodel.SourceGeneratedNote)
	}
	return nil
}
