package ragindex

import (
	"context"
	"testing"

	"thoth/internal/cache"
	"thoth/internal/config"
	"thoth/internal/gateway"
	"thoth/internal/llm"
	"thoth/internal/persistence/databases"
	"thoth/internal/rag/service"
	"thoth/internal/relstore"
	"thoth/internal/thothmodel"
)

type fakeProvider struct{ reply string }

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: f.reply}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func newTestIndex(t *testing.T, reply string) (*Index, relstore.Store) {
	t.Helper()
	mgr := databases.Manager{
		Search: databases.NewMemorySearch(),
		Vector: databases.NewMemoryVector(),
		Graph:  databases.NewMemoryGraph(),
	}
	store := relstore.NewMemory()
	gw := gateway.New(config.GatewayConfig{}, cache.New(cache.NewMemoryStore()), &fakeProvider{reply: reply}, nil)
	idx := New(service.New(mgr), gw, mgr, store, config.RAGConfig{ChunkTokens: 64, ChunkOverlap: 8}, config.QAConfig{Model: "qa-model"})
	return idx, store
}

func TestIndexAndSearchRoundTrip(t *testing.T) {
	idx, _ := newTestIndex(t, "")
	ctx := context.Background()

	ids, err := idx.IndexVersion(ctx, "p1", 1, "# Intro\n\nTransformers use self-attention for sequence modeling.", thothmodel.SourcePaperBody)
	if err != nil {
		t.Fatalf("IndexVersion: %v", err)
	}
	if len(ids) == 0 {
		t.Fatalf("no chunks written")
	}

	refs, err := idx.Search(ctx, "self-attention sequence modeling", 4, SearchFilters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) == 0 {
		t.Fatalf("no results for indexed content")
	}
	if refs[0].PaperID != "p1" || refs[0].Version != 1 || refs[0].SourceKind != thothmodel.SourcePaperBody {
		t.Fatalf("unexpected top ref %+v", refs[0])
	}
}

func TestIndexVersionSkipsEmptyContent(t *testing.T) {
	idx, _ := newTestIndex(t, "")
	ids, err := idx.IndexVersion(context.Background(), "p1", 1, "   \n\t ", thothmodel.SourcePaperBody)
	if err != nil {
		t.Fatalf("IndexVersion: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("whitespace-only content produced %d chunks", len(ids))
	}
}

func TestDeleteVersionIsIdempotent(t *testing.T) {
	idx, _ := newTestIndex(t, "")
	ctx := context.Background()

	if _, err := idx.IndexVersion(ctx, "p1", 1, "body text about citation graphs", thothmodel.SourcePaperBody); err != nil {
		t.Fatalf("IndexVersion: %v", err)
	}
	if err := idx.DeleteVersion(ctx, "p1", 1, thothmodel.SourcePaperBody); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	// Deleting again (and deleting a never-written source kind) is not an error.
	if err := idx.DeleteVersion(ctx, "p1", 1, thothmodel.SourcePaperBody); err != nil {
		t.Fatalf("repeat DeleteVersion: %v", err)
	}
	if err := idx.DeleteVersion(ctx, "p1", 1, thothmodel.SourceGeneratedNote); err != nil {
		t.Fatalf("DeleteVersion for absent kind: %v", err)
	}

	refs, err := idx.Search(ctx, "citation graphs", 4, SearchFilters{PaperID: "p1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("chunks survived DeleteVersion: %+v", refs)
	}
}

func TestSearchFiltersBySourceKindAndPaperMetadata(t *testing.T) {
	idx, store := newTestIndex(t, "")
	ctx := context.Background()

	tx, _ := store.BeginPaperUpdate(ctx)
	_ = tx.UpsertPaper(ctx, thothmodel.Paper{ID: "p1", Year: 2017, Tags: []string{"nlp"}})
	_ = tx.Commit(ctx)

	if _, err := idx.IndexVersion(ctx, "p1", 1, "body text about attention", thothmodel.SourcePaperBody); err != nil {
		t.Fatalf("IndexVersion body: %v", err)
	}
	if _, err := idx.IndexVersion(ctx, "p1", 1, "note text about attention", thothmodel.SourceGeneratedNote); err != nil {
		t.Fatalf("IndexVersion note: %v", err)
	}

	refs, err := idx.Search(ctx, "attention", 8, SearchFilters{SourceKind: thothmodel.SourceGeneratedNote})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) == 0 {
		t.Fatalf("note chunks not found")
	}
	for _, r := range refs {
		if r.SourceKind != thothmodel.SourceGeneratedNote {
			t.Fatalf("source-kind filter leaked %+v", r)
		}
	}

	if refs, _ := idx.Search(ctx, "attention", 8, SearchFilters{YearMin: 2020}); len(refs) != 0 {
		t.Fatalf("year filter leaked %+v", refs)
	}
	if refs, _ := idx.Search(ctx, "attention", 8, SearchFilters{Tag: "biology"}); len(refs) != 0 {
		t.Fatalf("tag filter leaked %+v", refs)
	}
}

func TestAskSynthesizesFromSources(t *testing.T) {
	idx, _ := newTestIndex(t, "Attention lets models weigh tokens [1].")
	ctx := context.Background()

	if _, err := idx.IndexVersion(ctx, "p1", 1, "Attention weighs token relevance across a sequence.", thothmodel.SourcePaperBody); err != nil {
		t.Fatalf("IndexVersion: %v", err)
	}

	ans, err := idx.Ask(ctx, "What does attention do?", 4, 0, SearchFilters{})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Answer == "" {
		t.Fatalf("empty answer")
	}
	if len(ans.Sources) == 0 {
		t.Fatalf("answer carries no source references")
	}
}
