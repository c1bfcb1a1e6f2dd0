package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"thoth/internal/analysis"
	"thoth/internal/cache"
	"thoth/internal/config"
	"thoth/internal/gateway"
	"thoth/internal/graph"
	"thoth/internal/llm"
	"thoth/internal/objectstore"
	"thoth/internal/persistence/databases"
	"thoth/internal/pipeline"
	"thoth/internal/rag/service"
	"thoth/internal/ragindex"
	"thoth/internal/relstore"
	"thoth/internal/render"
	"thoth/internal/resolve"
	"thoth/internal/thothmodel"
	"thoth/internal/vault"
)

type cannedProvider struct {
	analysisReply  string
	citationsReply string
	calls          int
}

func (p *cannedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	p.calls++
	if len(msgs) > 0 && strings.Contains(msgs[0].Content, "bibliographic metadata") {
		return llm.Message{Role: "assistant", Content: p.citationsReply}, nil
	}
	return llm.Message{Role: "assistant", Content: p.analysisReply}, nil
}

func (p *cannedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func newTestCore(t *testing.T) (*Core, *cannedProvider) {
	t.Helper()

	ocr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"markdown": "# A Paper\n\nBody text."})
	}))
	t.Cleanup(ocr.Close)

	analysisJSON, _ := json.Marshal(map[string]any{
		"summary":      "s",
		"key_findings": []string{"f"},
		"abstract":     "a",
		"methodology":  "m",
		"results":      "r",
		"limitations":  []string{"l"},
		"related_work": "rw",
		"tags":         []string{"t"},
	})
	citationsJSON, _ := json.Marshal(map[string]any{
		"paper":     map[string]any{"title": "A Paper", "doi": "10.0/abc"},
		"citations": []any{},
	})
	provider := &cannedProvider{analysisReply: string(analysisJSON), citationsReply: string(citationsJSON)}

	gw := gateway.New(config.GatewayConfig{
		OCR: config.ServiceEndpoint{BaseURL: ocr.URL},
	}, cache.New(cache.NewMemoryStore()), provider, nil)

	mgr := databases.Manager{
		Search: databases.NewMemorySearch(),
		Vector: databases.NewMemoryVector(),
		Graph:  databases.NewMemoryGraph(),
	}
	store := relstore.NewMemory()
	idx := ragindex.New(service.New(mgr), gw, mgr, store, config.RAGConfig{ChunkTokens: 64, ChunkOverlap: 8}, config.QAConfig{})
	gr := graph.New(store, mgr.Graph, idx)
	// A real on-disk vault, so Reingest can re-read the stored PDF by
	// the absolute path the paper row carries.
	ls, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	vlt := vault.NewWithStore(ls)
	renderer, err := render.New("")
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	resolver := resolve.New(gw)

	pl := pipeline.New(config.PipelineConfig{}, pipeline.Deps{
		Gateway:   gw,
		Vault:     vlt,
		Analysis:  analysis.New(gw, "analysis-model", 8192),
		Resolver:  resolver,
		Renderer:  renderer,
		Graph:     gr,
		Store:     store,
		Citations: config.CitationsConfig{Model: "citations-model"},
	})

	core := New(Config{QADefaultK: 4}, Deps{
		Gateway:  gw,
		Vault:    vlt,
		Store:    store,
		Graph:    gr,
		RAG:      idx,
		Resolver: resolver,
		Pipeline: pl,
	})
	return core, provider
}

func TestIngestPDFIsIdempotentWithoutForce(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "paper.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 body"), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	first, err := core.IngestPDF(ctx, path, false)
	if err != nil {
		t.Fatalf("first IngestPDF: %v", err)
	}
	if first.DOI != "10.0/abc" {
		t.Fatalf("paper DOI = %q", first.DOI)
	}

	second, err := core.IngestPDF(ctx, path, false)
	if err != nil {
		t.Fatalf("second IngestPDF: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-ingest changed paper identity")
	}
	active, ok, _ := core.Store.GetActiveVersion(ctx, first.ID)
	if !ok || active.Version != 1 {
		t.Fatalf("active version advanced on an unchanged PDF: %+v", active)
	}
}

func TestReingestAdvancesVersion(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "paper.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 body"), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	first, err := core.IngestPDF(ctx, path, false)
	if err != nil {
		t.Fatalf("IngestPDF: %v", err)
	}

	if _, err := core.Reingest(ctx, first.ID); err != nil {
		t.Fatalf("Reingest: %v", err)
	}
	active, ok, _ := core.Store.GetActiveVersion(ctx, first.ID)
	if !ok || active.Version != 2 {
		t.Fatalf("active version after reingest = %+v, want 2", active)
	}
}

func TestResolveCitationUnresolvedFallback(t *testing.T) {
	core, _ := newTestCore(t)

	c, err := core.ResolveCitation(context.Background(), "Smith, Unknown Venue, 19??")
	if err != nil {
		t.Fatalf("ResolveCitation: %v", err)
	}
	if c.ResolverStage != thothmodel.ResolverUnresolved || c.Confidence != 0 {
		t.Fatalf("expected unresolved with confidence 0, got %+v", c)
	}
}

func TestMigrateLegacyPaths(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	watchDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(watchDir, "legacy.pdf"), []byte("%PDF"), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	tx, _ := core.Store.BeginPaperUpdate(ctx)
	_ = tx.UpsertPaper(ctx, thothmodel.Paper{ID: "legacy", PDFPath: "legacy.pdf"})
	_ = tx.Commit(ctx)

	if err := core.MigrateLegacyPaths(ctx, watchDir); err != nil {
		t.Fatalf("MigrateLegacyPaths: %v", err)
	}

	p, ok, _ := core.Store.GetPaper(ctx, "legacy")
	if !ok {
		t.Fatalf("paper vanished during migration")
	}
	if !filepath.IsAbs(p.PDFPath) || filepath.Base(p.PDFPath) != "legacy.pdf" {
		t.Fatalf("path not migrated: %q", p.PDFPath)
	}
}
