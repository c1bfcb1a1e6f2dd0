package pipeline

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
	"thoth/internal/rag/service"
	"thoth/internal/ragindex"
	"thoth/internal/relstore"
	"thoth/internal/render"
	"thoth/internal/resolve"
	"thoth/internal/thothmodel"
	"thoth/internal/vault"
)

// routingProvider answers the analysis and citation-extraction calls
// with canned JSON, keyed off each call's system prompt.
type routingProvider struct {
	analysisReply  string
	citationsReply string
}

func (p *routingProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	reply := p.analysisReply
	if len(msgs) > 0 && strings.Contains(msgs[0].Content, "bibliographic metadata") {
		reply = p.citationsReply
	}
	return llm.Message{Role: "assistant", Content: reply}, nil
}

func (p *routingProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func analysisReply() string {
	b, _ := json.Marshal(map[string]any{
		"summary":      "Introduces the Transformer architecture.",
		"key_findings": []string{"Self-attention replaces recurrence"},
		"abstract":     "We propose the Transformer.",
		"methodology":  "Empirical evaluation on WMT translation.",
		"results":      "State-of-the-art BLEU.",
		"limitations":  []string{"Quadratic attention cost"},
		"related_work": "Builds on attention in NMT.",
		"tags":         []string{"transformers"},
	})
	return string(b)
}

func citationsReply() string {
	b, _ := json.Marshal(rawCitationsRecord{
		Paper: paperMetaEntry{
			Title:   "Attention Is All You Need",
			Authors: []string{"Vaswani", "Shazeer"},
			Year:    2017,
			Venue:   "NeurIPS",
			DOI:     "10.0/aiayn",
		},
		Citations: []rawCitationEntry{
			{
				CitationText: "Bahdanau et al. Neural Machine Translation. doi:10.1409/nmt",
				Title:        "Neural Machine Translation",
				Authors:      []string{"Bahdanau"},
				Year:         2014,
			},
			{
				// same DOI again, phrased differently: must collapse
				CitationText: "D. Bahdanau, NMT by jointly learning to align. 10.1409/nmt",
				Title:        "Neural Machine Translation",
				Authors:      []string{"Bahdanau"},
				Year:         2014,
			},
			{
				CitationText: "Smith, Unknown Venue, 19??",
			},
		},
	})
	return string(b)
}

type testStack struct {
	pipeline *Pipeline
	store    relstore.Store
	vault    *vault.Vault
	index    *ragindex.Index
}

func newTestStack(t *testing.T) testStack {
	t.Helper()

	ocr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"markdown": "# Attention Is All You Need\n\n![fig](fig1.png)\n\nThe Transformer relies entirely on self-attention.\n\n## References\n\n[1] Bahdanau et al.",
		})
	}))
	t.Cleanup(ocr.Close)

	crossref := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{
				"DOI":   "10.1409/nmt",
				"title": []string{"Neural Machine Translation"},
			},
		})
	}))
	t.Cleanup(crossref.Close)

	provider := &routingProvider{analysisReply: analysisReply(), citationsReply: citationsReply()}
	gw := gateway.New(config.GatewayConfig{
		OCR: config.ServiceEndpoint{BaseURL: ocr.URL},
		DOI: config.ServiceEndpoint{BaseURL: crossref.URL},
	}, cache.New(cache.NewMemoryStore()), provider, nil)

	mgr := databases.Manager{
		Search: databases.NewMemorySearch(),
		Vector: databases.NewMemoryVector(),
		Graph:  databases.NewMemoryGraph(),
	}
	store := relstore.NewMemory()
	idx := ragindex.New(service.New(mgr), gw, mgr, store, config.RAGConfig{ChunkTokens: 64, ChunkOverlap: 8}, config.QAConfig{})
	gr := graph.New(store, mgr.Graph, idx)
	vlt := vault.NewWithStore(objectstore.NewMemoryStore())

	renderer, err := render.New("")
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}

	p := New(config.PipelineConfig{}, Deps{
		Gateway:   gw,
		Vault:     vlt,
		Analysis:  analysis.New(gw, "analysis-model", 8192),
		Resolver:  resolve.New(gw),
		Renderer:  renderer,
		Graph:     gr,
		Store:     store,
		Citations: config.CitationsConfig{Model: "citations-model"},
	})
	return testStack{pipeline: p, store: store, vault: vlt, index: idx}
}

func writeTestPDF(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attention.pdf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

func TestProcessHappyPath(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	res, err := st.pipeline.Process(ctx, writeTestPDF(t, "%PDF-1.4 fake attention paper"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if res.Paper.DOI != "10.0/aiayn" {
		t.Fatalf("paper DOI = %q, want 10.0/aiayn", res.Paper.DOI)
	}
	if res.Paper.Title != "Attention Is All You Need" {
		t.Fatalf("paper title = %q", res.Paper.Title)
	}
	if res.Version != 1 {
		t.Fatalf("version = %d, want 1", res.Version)
	}

	active, ok, err := st.store.GetActiveVersion(ctx, res.Paper.ID)
	if err != nil || !ok || active.Version != 1 || !active.IsActive {
		t.Fatalf("active version: ok=%v err=%v v=%+v", ok, err, active)
	}

	// The images must be stripped from the canonical markdown.
	if strings.Contains(active.MarkdownContent, "![") {
		t.Fatalf("image syntax in canonical markdown: %q", active.MarkdownContent)
	}

	citations, err := st.store.ListCitations(ctx, res.Paper.ID, 1)
	if err != nil {
		t.Fatalf("ListCitations: %v", err)
	}
	// Three raw entries, two sharing a DOI: dedup leaves two rows.
	if len(citations) != 2 {
		t.Fatalf("citation count = %d, want 2: %+v", len(citations), citations)
	}
	var resolved, unresolved *thothmodel.Citation
	for i := range citations {
		if citations[i].ResolverStage == thothmodel.ResolverUnresolved {
			unresolved = &citations[i]
		} else {
			resolved = &citations[i]
		}
	}
	if resolved == nil || resolved.ResolverStage != thothmodel.ResolverDOI || resolved.Confidence != 1.0 {
		t.Fatalf("expected a DOI-resolved citation with confidence 1.0, got %+v", resolved)
	}
	if resolved.ResolvedDOI != "10.1409/nmt" {
		t.Fatalf("resolved DOI = %q", resolved.ResolvedDOI)
	}
	// The collapsed duplicate's context must be aggregated.
	if !strings.Contains(resolved.CitationText, "jointly learning") {
		t.Fatalf("duplicate context not aggregated: %q", resolved.CitationText)
	}
	if unresolved == nil || unresolved.Confidence != 0 {
		t.Fatalf("expected an unresolved citation with confidence 0, got %+v", unresolved)
	}

	refs, err := st.index.Search(ctx, "self-attention", 4, ragindex.SearchFilters{PaperID: res.Paper.ID})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) == 0 {
		t.Fatalf("no chunks indexed for the new version")
	}

	if !st.vault.NoteExists(ctx, res.Paper.ID) {
		t.Fatalf("rendered note missing from vault")
	}
}

func TestProcessAssignsIncreasingVersions(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	path := writeTestPDF(t, "%PDF-1.4 fake attention paper")

	first, err := st.pipeline.Process(ctx, path)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := st.pipeline.Process(ctx, path)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if second.Paper.ID != first.Paper.ID {
		t.Fatalf("re-processing changed the paper id")
	}
	if second.Version != first.Version+1 {
		t.Fatalf("versions = %d then %d, want strictly increasing", first.Version, second.Version)
	}

	if v1, ok, _ := st.store.GetVersion(ctx, first.Paper.ID, first.Version); !ok || v1.IsActive {
		t.Fatalf("superseded version row not retained as inactive: ok=%v v=%+v", ok, v1)
	}
	active, ok, _ := st.store.GetActiveVersion(ctx, first.Paper.ID)
	if !ok || active.Version != second.Version {
		t.Fatalf("active version = %+v, want %d", active, second.Version)
	}
}

func TestProcessDegradesWhenCitationExtractionFails(t *testing.T) {
	// The citations reply is unparseable, so CallStructured exhausts its
	// corrective retries; the document must still ingest and activate.
	broken := newBrokenCitationsStack(t)
	ctx := context.Background()

	res, err := broken.pipeline.Process(ctx, writeTestPDF(t, "%PDF-1.4 another paper"))
	if err != nil {
		t.Fatalf("Process should degrade, not fail: %v", err)
	}
	citations, _ := broken.store.ListCitations(ctx, res.Paper.ID, res.Version)
	if len(citations) != 0 {
		t.Fatalf("expected no citations after extraction failure, got %+v", citations)
	}
	if _, ok, _ := broken.store.GetActiveVersion(ctx, res.Paper.ID); !ok {
		t.Fatalf("document did not activate despite non-fatal stage failure")
	}
}

func newBrokenCitationsStack(t *testing.T) testStack {
	t.Helper()

	ocr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"markdown": "# Another Paper\n\nBody."})
	}))
	t.Cleanup(ocr.Close)

	provider := &routingProvider{analysisReply: analysisReply(), citationsReply: "not json at all"}
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
	vlt := vault.NewWithStore(objectstore.NewMemoryStore())
	renderer, err := render.New("")
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}

	p := New(config.PipelineConfig{}, Deps{
		Gateway:   gw,
		Vault:     vlt,
		Analysis:  analysis.New(gw, "analysis-model", 8192),
		Resolver:  resolve.New(gw),
		Renderer:  renderer,
		Graph:     gr,
		Store:     store,
		Citations: config.CitationsConfig{Model: "citations-model"},
	})
	return testStack{pipeline: p, store: store, vault: vlt, index: idx}
}
