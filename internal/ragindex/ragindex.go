// Package ragindex is the paper-facing retrieval façade:
// paper-domain-specific chunking, hybrid retrieval, and answer
// synthesis over the generic rag/service.Service, plus the chunk
// garbage collection the cross-store upsert protocol requires when a
// version is superseded.
package ragindex

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"thoth/internal/config"
	"thoth/internal/gateway"
	"thoth/internal/persistence/databases"
	"thoth/internal/rag/ingest"
	"thoth/internal/rag/retrieve"
	"thoth/internal/rag/service"
	"thoth/internal/relstore"
	"thoth/internal/thothmodel"
)

// ChunkRef is one chunk backing an ask() answer.
type ChunkRef struct {
	ChunkID    string
	PaperID    string
	Version    int
	SourceKind thothmodel.SourceKind
	Score      float64
	Snippet    string
}

// SearchFilters narrows search/ask results by paper, tag, year range,
// or source kind.
type SearchFilters struct {
	PaperID    string
	Tag        string
	YearMin    int
	YearMax    int
	SourceKind thothmodel.SourceKind
}

// Index is the retrieval façade.
type Index struct {
	svc    *service.Service
	gw     *gateway.Gateway
	search databases.FullTextSearch
	vector databases.VectorStore
	store  relstore.Store

	ragCfg config.RAGConfig
	qaCfg  config.QAConfig
}

// New builds an Index over an already-constructed rag service and the
// same store manager it was built from, so deletion-by-filter can
// reach the underlying search/vector backends directly.
func New(svc *service.Service, gw *gateway.Gateway, mgr databases.Manager, store relstore.Store, ragCfg config.RAGConfig, qaCfg config.QAConfig) *Index {
	return &Index{
		svc:    svc,
		gw:     gw,
		search: mgr.Search,
		vector: mgr.Vector,
		store:  store,
		ragCfg: ragCfg,
		qaCfg:  qaCfg,
	}
}

// docID deterministically tags every chunk written for one
// (paperID, version, sourceKind) triple — encoded in the id itself
// since the generic rag/ingest vector path doesn't carry arbitrary
// caller metadata through to the vector store.
func docID(paperID string, version int, source thothmodel.SourceKind) string {
	return fmt.Sprintf("paper:%s:%d:%s", paperID, version, source)
}

func parseDocID(id string) (paperID string, version int, source thothmodel.SourceKind, ok bool) {
	parts := strings.SplitN(id, ":", 4)
	if len(parts) != 4 || parts[0] != "paper" {
		return "", 0, "", false
	}
	v, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, "", false
	}
	return parts[1], v, thothmodel.SourceKind(parts[3]), true
}

// IndexVersion chunks markdown (two-stage: markdown headers, then
// recursive paragraph/sentence/token split) and writes dense + lexical
// entries for one (paperID, version, source).
// Content containing only figures/tables yields no chunks and is not
// an error.
func (ix *Index) IndexVersion(ctx context.Context, paperID string, version int, markdown string, source thothmodel.SourceKind) ([]string, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}
	chunkTokens := ix.ragCfg.ChunkTokens
	if chunkTokens <= 0 {
		chunkTokens = 1000
	}
	overlap := ix.ragCfg.ChunkOverlap
	if overlap <= 0 {
		overlap = 200
	}

	req := ingest.IngestRequest{
		ID:   docID(paperID, version, source),
		Text: markdown,
		Metadata: map[string]any{
			"source_kind": string(source),
		},
		Options: ingest.IngestOptions{
			Chunking: ingest.ChunkingOptions{
				Strategy:  "markdown",
				MaxTokens: chunkTokens,
				Overlap:   overlap,
			},
			Embedding:      ingest.EmbeddingOptions{Enabled: true},
			ReingestPolicy: ingest.ReingestOverwrite,
			Version:        version,
		},
	}
	resp, err := ix.svc.Ingest(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.ChunkIDs, nil
}

// DeleteVersion removes every chunk written for (paperID, version,
// source) from both the dense and lexical stores. Idempotent: deleting
// a version with no chunks is not an error.
func (ix *Index) DeleteVersion(ctx context.Context, paperID string, version int, source thothmodel.SourceKind) error {
	filter := map[string]string{"doc_id": docID(paperID, version, source)}
	if ix.vector != nil {
		if err := ix.vector.DeleteByFilter(ctx, filter); err != nil {
			return fmt.Errorf("ragindex: delete vector chunks: %w", err)
		}
	}
	if ix.search != nil {
		if err := ix.search.DeleteByFilter(ctx, filter); err != nil {
			return fmt.Errorf("ragindex: delete lexical chunks: %w", err)
		}
	}
	return nil
}

// Search runs hybrid (dense + lexical, RRF-fused) retrieval and
// applies filters post-fusion against the (paperID, version, source)
// tuple every chunk id encodes, plus paper-level tag/year metadata
// looked up from the relational store.
func (ix *Index) Search(ctx context.Context, query string, k int, filters SearchFilters) ([]ChunkRef, error) {
	if k <= 0 {
		k = ix.ragCfg.DefaultK
	}
	if k <= 0 {
		k = 8
	}
	denseK := ix.ragCfg.DenseK
	if denseK <= 0 {
		denseK = k * 4
	}
	lexicalK := ix.ragCfg.LexicalK
	if lexicalK <= 0 {
		lexicalK = k * 4
	}
	rrfK := ix.ragCfg.RRFConstant
	if rrfK <= 0 {
		rrfK = 60
	}

	// Overfetch before post-fusion filtering, since filters narrow by
	// paper metadata the underlying fusion doesn't see.
	resp, err := ix.svc.Retrieve(ctx, query, retrieve.RetrieveOptions{
		K:              k * 3,
		FtK:            lexicalK,
		VecK:           denseK,
		UseRRF:         true,
		RRFK:           rrfK,
		IncludeSnippet: true,
		Diversify:      true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]ChunkRef, 0, k)
	for _, item := range resp.Items {
		paperID, version, source, ok := parseDocID(item.DocID)
		if !ok {
			paperID, version, source, ok = parseDocID(item.Metadata["doc_id"])
		}
		if !ok {
			continue
		}
		if !ix.matchesFilter(ctx, paperID, version, source, filters) {
			continue
		}
		out = append(out, ChunkRef{
			ChunkID:    item.ID,
			PaperID:    paperID,
			Version:    version,
			SourceKind: source,
			Score:      item.Score,
			Snippet:    item.Snippet,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (ix *Index) matchesFilter(ctx context.Context, paperID string, version int, source thothmodel.SourceKind, f SearchFilters) bool {
	if f.PaperID != "" && f.PaperID != paperID {
		return false
	}
	if f.SourceKind != "" && f.SourceKind != source {
		return false
	}
	if f.Tag == "" && f.YearMin == 0 && f.YearMax == 0 {
		return true
	}
	if ix.store == nil {
		return true
	}
	p, ok, err := ix.store.GetPaper(ctx, paperID)
	if err != nil || !ok {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range p.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.YearMin != 0 && p.Year < f.YearMin {
		return false
	}
	if f.YearMax != 0 && p.Year > f.YearMax {
		return false
	}
	return true
}

// Answer is ask()'s return shape: a synthesized answer plus the chunk
// references it was grounded on.
type Answer struct {
	Answer  string
	Sources []ChunkRef
}

// Ask retrieves top-k chunks, keeps those scoring at least
// minSimilarity (all of them when none does), assembles a prompt
// labeled by source, and calls the configured LLM via the gateway's
// plain completion path.
func (ix *Index) Ask(ctx context.Context, question string, k int, minSimilarity float64, filters SearchFilters) (Answer, error) {
	if minSimilarity <= 0 {
		minSimilarity = ix.qaCfg.MinSimilarity
	}
	refs, err := ix.Search(ctx, question, k, filters)
	if err != nil {
		return Answer{}, err
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Score > refs[j].Score })
	var kept []ChunkRef
	for _, r := range refs {
		if r.Score < minSimilarity {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		kept = refs
	}

	var prompt strings.Builder
	prompt.WriteString("Answer the question using only the sources below. Cite sources by number.\n\n")
	fmt.Fprintf(&prompt, "Question: %s\n\n", question)
	for i, r := range kept {
		fmt.Fprintf(&prompt, "[%d] (paper %s, %s)\n%s\n\n", i+1, r.PaperID, r.SourceKind, r.Snippet)
	}

	answer, err := ix.gw.CallCompletion(ctx, gateway.CompletionRequest{
		Model:        ix.qaCfg.Model,
		SystemPrompt: "You are a careful research assistant. Only use the provided sources; say so if they're insufficient.",
		Prompt:       prompt.String(),
	})
	if err != nil {
		return Answer{}, err
	}
	return Answer{Answer: answer, Sources: kept}, nil
}
