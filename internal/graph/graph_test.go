package graph

import (
	"context"
	"testing"
	"time"

	"thoth/internal/config"
	"thoth/internal/persistence/databases"
	"thoth/internal/rag/service"
	"thoth/internal/ragindex"
	"thoth/internal/relstore"
	"thoth/internal/thothmodel"
)

func newTestGraph(t *testing.T) (*Graph, relstore.Store, *ragindex.Index, databases.Manager) {
	t.Helper()
	mgr := databases.Manager{
		Search: databases.NewMemorySearch(),
		Vector: databases.NewMemoryVector(),
		Graph:  databases.NewMemoryGraph(),
	}
	store := relstore.NewMemory()
	idx := ragindex.New(service.New(mgr), nil, mgr, store, config.RAGConfig{ChunkTokens: 64, ChunkOverlap: 8}, config.QAConfig{})
	return New(store, mgr.Graph, idx), store, idx, mgr
}

func upsertInput(paperID string, version int, citations []thothmodel.Citation) UpsertInput {
	return UpsertInput{
		Paper: thothmodel.Paper{ID: paperID, Title: "Paper " + paperID, Year: 2020},
		Version: thothmodel.ProcessingVersion{
			PaperID: paperID, Version: version, MarkdownContent: "# Heading\n\nSome body text about attention mechanisms.",
			ProcessedAt: time.Now(),
		},
		Citations: citations,
		Markdown:  "# Heading\n\nSome body text about attention mechanisms.",
	}
}

func TestUpsertPaperActivatesAndIndexes(t *testing.T) {
	g, store, idx, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.UpsertPaper(ctx, upsertInput("p1", 1, nil)); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}

	active, ok, err := store.GetActiveVersion(ctx, "p1")
	if err != nil || !ok || active.Version != 1 {
		t.Fatalf("active version after upsert: ok=%v err=%v v=%+v", ok, err, active)
	}

	refs, err := idx.Search(ctx, "attention mechanisms", 4, ragindex.SearchFilters{PaperID: "p1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) == 0 {
		t.Fatalf("no chunks indexed for the activated version")
	}
	for _, r := range refs {
		if r.Version != 1 || r.SourceKind != thothmodel.SourcePaperBody {
			t.Fatalf("unexpected chunk ref %+v", r)
		}
	}
}

func TestUpsertPaperSupersedesAndGCsOldChunks(t *testing.T) {
	g, store, idx, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.UpsertPaper(ctx, upsertInput("p1", 1, nil)); err != nil {
		t.Fatalf("UpsertPaper v1: %v", err)
	}
	if _, err := g.UpsertPaper(ctx, upsertInput("p1", 2, nil)); err != nil {
		t.Fatalf("UpsertPaper v2: %v", err)
	}

	active, ok, _ := store.GetActiveVersion(ctx, "p1")
	if !ok || active.Version != 2 {
		t.Fatalf("active version = %+v, want 2", active)
	}
	if v1, ok, _ := store.GetVersion(ctx, "p1", 1); !ok || v1.IsActive {
		t.Fatalf("superseded version row not retained as inactive: ok=%v v=%+v", ok, v1)
	}

	refs, err := idx.Search(ctx, "attention mechanisms", 8, ragindex.SearchFilters{PaperID: "p1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range refs {
		if r.Version != 2 {
			t.Fatalf("chunk for superseded version survived: %+v", r)
		}
	}
}

func TestCitationsMirrorBothEdgeDirections(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.UpsertPaper(ctx, upsertInput("cited", 1, nil)); err != nil {
		t.Fatalf("UpsertPaper cited: %v", err)
	}
	citations := []thothmodel.Citation{{
		CitingPaperID: "citing", CitedPaperID: "cited",
		ResolverStage: thothmodel.ResolverFuzzy, Confidence: 0.9, ProcessingVersion: 1,
	}}
	if _, err := g.UpsertPaper(ctx, upsertInput("citing", 1, citations)); err != nil {
		t.Fatalf("UpsertPaper citing: %v", err)
	}

	out, err := g.Neighbors(ctx, "citing", DirectionOut, 1)
	if err != nil {
		t.Fatalf("Neighbors out: %v", err)
	}
	if len(out) != 1 || out[0] != "cited" {
		t.Fatalf("outgoing neighbors = %v, want [cited]", out)
	}
	in, err := g.Neighbors(ctx, "cited", DirectionIn, 1)
	if err != nil {
		t.Fatalf("Neighbors in: %v", err)
	}
	if len(in) != 1 || in[0] != "citing" {
		t.Fatalf("incoming neighbors = %v, want [citing]", in)
	}
}

func TestNeighborsMultiHop(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := g.UpsertPaper(ctx, upsertInput(id, 1, nil)); err != nil {
			t.Fatalf("UpsertPaper %s: %v", id, err)
		}
	}
	link := func(src, dst string) {
		cs := []thothmodel.Citation{{CitingPaperID: src, CitedPaperID: dst, ResolverStage: thothmodel.ResolverFuzzy, Confidence: 0.9, ProcessingVersion: 2}}
		if _, err := g.UpsertPaper(ctx, upsertInput(src, 2, cs)); err != nil {
			t.Fatalf("link %s->%s: %v", src, dst, err)
		}
	}
	link("a", "b")
	link("b", "c")

	one, _ := g.Neighbors(ctx, "a", DirectionOut, 1)
	if len(one) != 1 {
		t.Fatalf("depth-1 neighbors = %v", one)
	}
	two, _ := g.Neighbors(ctx, "a", DirectionOut, 2)
	if len(two) != 2 {
		t.Fatalf("depth-2 neighbors = %v", two)
	}
}

func TestScanOrphansDeletesInactiveChunks(t *testing.T) {
	g, store, idx, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.UpsertPaper(ctx, upsertInput("p1", 1, nil)); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	// Simulate a crash that left chunks behind for a version that never
	// activated: index version 2 directly, bypassing the transaction.
	if _, err := idx.IndexVersion(ctx, "p1", 2, "orphaned text body", thothmodel.SourcePaperBody); err != nil {
		t.Fatalf("IndexVersion: %v", err)
	}
	tx, _ := store.BeginPaperUpdate(ctx)
	_ = tx.InsertVersion(ctx, thothmodel.ProcessingVersion{PaperID: "p1", Version: 2, ProcessedAt: time.Now().Add(-time.Hour)})
	_ = tx.Commit(ctx)

	if err := g.ScanOrphans(ctx); err != nil {
		t.Fatalf("ScanOrphans: %v", err)
	}

	refs, err := idx.Search(ctx, "orphaned text body", 8, ragindex.SearchFilters{PaperID: "p1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range refs {
		if r.Version == 2 {
			t.Fatalf("orphan chunk survived startup scan: %+v", r)
		}
	}
}
