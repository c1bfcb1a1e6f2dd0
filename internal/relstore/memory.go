package relstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"thoth/internal/thothmodel"
)

type memoryStore struct {
	mu sync.Mutex

	papers    map[string]thothmodel.Paper
	versions  map[string]map[int]thothmodel.ProcessingVersion // paperID -> version -> snapshot
	citations map[string]map[int][]thothmodel.Citation        // paperID -> version -> citations
	active    map[string]int                                  // paperID -> active version (0 = none)
	failures  map[string]FailureRecord
	queries   map[string]thothmodel.ResearchQuery
}

// NewMemory builds an in-process Store, used by tests and by the
// "memory" DB backend for local/dev runs without Postgres.
func NewMemory() Store {
	return &memoryStore{
		papers:    make(map[string]thothmodel.Paper),
		versions:  make(map[string]map[int]thothmodel.ProcessingVersion),
		citations: make(map[string]map[int][]thothmodel.Citation),
		active:    make(map[string]int),
		failures:  make(map[string]FailureRecord),
		queries:   make(map[string]thothmodel.ResearchQuery),
	}
}

func (m *memoryStore) BeginPaperUpdate(ctx context.Context) (Tx, error) {
	return &memoryTx{store: m}, nil
}

func (m *memoryStore) GetPaper(ctx context.Context, paperID string) (thothmodel.Paper, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[paperID]
	return p, ok, nil
}

func (m *memoryStore) GetPaperByContentHash(ctx context.Context, contentHash string) (thothmodel.Paper, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contentHash == "" {
		return thothmodel.Paper{}, false, nil
	}
	for _, p := range m.papers {
		if p.ContentHash == contentHash || p.ID == contentHash {
			return p, true, nil
		}
	}
	return thothmodel.Paper{}, false, nil
}

func (m *memoryStore) GetActiveVersion(ctx context.Context, paperID string) (thothmodel.ProcessingVersion, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.active[paperID]
	if !ok || v == 0 {
		return thothmodel.ProcessingVersion{}, false, nil
	}
	pv, ok := m.versions[paperID][v]
	return pv, ok, nil
}

func (m *memoryStore) GetVersion(ctx context.Context, paperID string, version int) (thothmodel.ProcessingVersion, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.versions[paperID]
	if !ok {
		return thothmodel.ProcessingVersion{}, false, nil
	}
	pv, ok := vs[version]
	return pv, ok, nil
}

func (m *memoryStore) NextVersion(ctx context.Context, paperID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for v := range m.versions[paperID] {
		if v > max {
			max = v
		}
	}
	return max + 1, nil
}

func (m *memoryStore) ListCitations(ctx context.Context, paperID string, version int) ([]thothmodel.Citation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]thothmodel.Citation(nil), m.citations[paperID][version]...), nil
}

func (m *memoryStore) ListPapers(ctx context.Context, filter PaperFilter) ([]thothmodel.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []thothmodel.Paper
	for id, p := range m.papers {
		status := m.statusLocked(id)
		if filter.Status != "" && status != filter.Status {
			continue
		}
		if filter.Tag != "" && !hasTag(p.Tags, filter.Tag) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memoryStore) statusLocked(paperID string) Status {
	if _, failed := m.failures[paperID]; failed && m.active[paperID] == 0 {
		return StatusFailed
	}
	v, ok := m.active[paperID]
	if !ok || v == 0 {
		return StatusFailed
	}
	pv := m.versions[paperID][v]
	if partial, _ := pv.Analysis.Extensions["partial"].(string); partial == "true" {
		return StatusPartial
	}
	return StatusActive
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (m *memoryStore) ListGraphCandidates(ctx context.Context) ([]GraphCandidateRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []GraphCandidateRow
	for id, v := range m.active {
		if v == 0 {
			continue
		}
		p, ok := m.papers[id]
		if !ok {
			continue
		}
		out = append(out, GraphCandidateRow{PaperID: p.ID, Title: p.Title, Authors: p.Authors, Year: p.Year, Venue: p.Venue})
	}
	return out, nil
}

func (m *memoryStore) DeletePaper(ctx context.Context, paperID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.papers, paperID)
	delete(m.versions, paperID)
	delete(m.citations, paperID)
	delete(m.active, paperID)
	delete(m.failures, paperID)
	return nil
}

func (m *memoryStore) RecordFailure(ctx context.Context, rec FailureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[rec.PaperID] = rec
	return nil
}

func (m *memoryStore) ClearFailure(ctx context.Context, paperID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, paperID)
	return nil
}

func (m *memoryStore) ListFailures(ctx context.Context) ([]FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FailureRecord, 0, len(m.failures))
	for _, f := range m.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memoryStore) InactiveVersionsOlderThan(ctx context.Context, cutoff time.Time) ([]VersionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VersionKey
	for paperID, vs := range m.versions {
		for v, pv := range vs {
			if pv.IsActive {
				continue
			}
			if pv.ProcessedAt.Before(cutoff) {
				out = append(out, VersionKey{PaperID: paperID, Version: v})
			}
		}
	}
	return out, nil
}

func (m *memoryStore) PruneVersion(ctx context.Context, paperID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vs, ok := m.versions[paperID]; ok {
		delete(vs, version)
	}
	if cs, ok := m.citations[paperID]; ok {
		delete(cs, version)
	}
	return nil
}

func (m *memoryStore) UpsertResearchQuery(ctx context.Context, q thothmodel.ResearchQuery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.CreatedAt.IsZero() {
		if existing, ok := m.queries[q.Name]; ok {
			q.CreatedAt = existing.CreatedAt
		} else {
			q.CreatedAt = time.Now()
		}
	}
	q.UpdatedAt = time.Now()
	m.queries[q.Name] = q
	return nil
}

func (m *memoryStore) ListResearchQueries(ctx context.Context) ([]thothmodel.ResearchQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]thothmodel.ResearchQuery, 0, len(m.queries))
	for _, q := range m.queries {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// memoryTx buffers writes and applies them to the store atomically
// (under one lock acquisition) on Commit, so readers see either the
// pre-update or post-update state, never a half-written version.
type memoryTx struct {
	store *memoryStore

	mu        sync.Mutex
	paper     *thothmodel.Paper
	versions  []thothmodel.ProcessingVersion
	citations map[int][]thothmodel.Citation
	activate  *int
	done      bool
}

func (tx *memoryTx) UpsertPaper(ctx context.Context, p thothmodel.Paper) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	cp := p
	tx.paper = &cp
	return nil
}

func (tx *memoryTx) InsertVersion(ctx context.Context, v thothmodel.ProcessingVersion) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i, existing := range tx.versions {
		if existing.Version == v.Version {
			tx.versions[i] = v
			return nil
		}
	}
	tx.versions = append(tx.versions, v)
	return nil
}

func (tx *memoryTx) InsertCitations(ctx context.Context, paperID string, version int, citations []thothmodel.Citation) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.citations == nil {
		tx.citations = make(map[int][]thothmodel.Citation)
	}
	tx.citations[version] = append([]thothmodel.Citation(nil), citations...)
	return nil
}

func (tx *memoryTx) Activate(ctx context.Context, paperID string, version int) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	v := version
	tx.activate = &v
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.done = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	var paperID string
	if tx.paper != nil {
		paperID = tx.paper.ID
		tx.store.papers[paperID] = *tx.paper
	}
	if paperID == "" && len(tx.versions) > 0 {
		paperID = tx.versions[0].PaperID
	}
	if paperID == "" {
		return nil
	}

	if _, ok := tx.store.versions[paperID]; !ok {
		tx.store.versions[paperID] = make(map[int]thothmodel.ProcessingVersion)
	}
	if _, ok := tx.store.citations[paperID]; !ok {
		tx.store.citations[paperID] = make(map[int][]thothmodel.Citation)
	}
	for _, v := range tx.versions {
		tx.store.versions[paperID][v.Version] = v
		if cs, ok := tx.citations[v.Version]; ok {
			tx.store.citations[paperID][v.Version] = cs
		}
	}

	if tx.activate != nil {
		for v, pv := range tx.store.versions[paperID] {
			pv.IsActive = v == *tx.activate
			tx.store.versions[paperID][v] = pv
		}
		tx.store.active[paperID] = *tx.activate
		delete(tx.store.failures, paperID)
	}
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	tx.paper = nil
	tx.versions = nil
	tx.citations = nil
	tx.activate = nil
	return nil
}
