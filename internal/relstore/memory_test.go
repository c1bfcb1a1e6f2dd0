package relstore

import (
	"context"
	"testing"
	"time"

	"thoth/internal/thothmodel"
)

func ingestOne(t *testing.T, s Store, paperID, contentHash string, version int) {
	t.Helper()
	tx, err := s.BeginPaperUpdate(context.Background())
	if err != nil {
		t.Fatalf("BeginPaperUpdate: %v", err)
	}
	if err := tx.UpsertPaper(context.Background(), thothmodel.Paper{
		ID: paperID, Title: "T", ContentHash: contentHash, Tags: []string{"nlp"},
	}); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	if err := tx.InsertVersion(context.Background(), thothmodel.ProcessingVersion{
		PaperID: paperID, Version: version, ProcessedAt: time.Now(),
	}); err != nil {
		t.Fatalf("InsertVersion: %v", err)
	}
	if err := tx.InsertCitations(context.Background(), paperID, version, []thothmodel.Citation{
		{CitingPaperID: paperID, CitationText: "ref", ProcessingVersion: version},
	}); err != nil {
		t.Fatalf("InsertCitations: %v", err)
	}
	if err := tx.Activate(context.Background(), paperID, version); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCommitActivatesExactlyOneVersion(t *testing.T) {
	s := NewMemory()
	ingestOne(t, s, "p1", "hash1", 1)
	ingestOne(t, s, "p1", "hash1", 2)

	v1, ok, err := s.GetVersion(context.Background(), "p1", 1)
	if err != nil || !ok {
		t.Fatalf("GetVersion(1): ok=%v err=%v", ok, err)
	}
	if v1.IsActive {
		t.Fatalf("version 1 should be deactivated after version 2 activates")
	}
	active, ok, err := s.GetActiveVersion(context.Background(), "p1")
	if err != nil || !ok {
		t.Fatalf("GetActiveVersion: ok=%v err=%v", ok, err)
	}
	if active.Version != 2 {
		t.Fatalf("active version = %d, want 2", active.Version)
	}
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	s := NewMemory()
	tx, _ := s.BeginPaperUpdate(context.Background())
	_ = tx.UpsertPaper(context.Background(), thothmodel.Paper{ID: "p1"})
	_ = tx.InsertVersion(context.Background(), thothmodel.ProcessingVersion{PaperID: "p1", Version: 1})
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok, _ := s.GetPaper(context.Background(), "p1"); ok {
		t.Fatalf("rolled-back paper is visible")
	}
	if _, ok, _ := s.GetActiveVersion(context.Background(), "p1"); ok {
		t.Fatalf("rolled-back version is active")
	}
}

func TestUncommittedWritesAreInvisible(t *testing.T) {
	s := NewMemory()
	tx, _ := s.BeginPaperUpdate(context.Background())
	_ = tx.UpsertPaper(context.Background(), thothmodel.Paper{ID: "p1"})
	_ = tx.InsertVersion(context.Background(), thothmodel.ProcessingVersion{PaperID: "p1", Version: 1})
	_ = tx.Activate(context.Background(), "p1", 1)

	if _, ok, _ := s.GetPaper(context.Background(), "p1"); ok {
		t.Fatalf("uncommitted paper visible to readers")
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, ok, _ := s.GetPaper(context.Background(), "p1"); !ok {
		t.Fatalf("committed paper not visible")
	}
}

func TestNextVersionIsStrictlyIncreasing(t *testing.T) {
	s := NewMemory()
	if v, _ := s.NextVersion(context.Background(), "p1"); v != 1 {
		t.Fatalf("first version = %d, want 1", v)
	}
	ingestOne(t, s, "p1", "hash1", 1)
	if v, _ := s.NextVersion(context.Background(), "p1"); v != 2 {
		t.Fatalf("second version = %d, want 2", v)
	}
}

func TestGetPaperByContentHash(t *testing.T) {
	s := NewMemory()
	ingestOne(t, s, "doi-derived-id", "cafebabe", 1)

	p, ok, err := s.GetPaperByContentHash(context.Background(), "cafebabe")
	if err != nil || !ok {
		t.Fatalf("lookup by content hash: ok=%v err=%v", ok, err)
	}
	if p.ID != "doi-derived-id" {
		t.Fatalf("got paper %q", p.ID)
	}
	if _, ok, _ := s.GetPaperByContentHash(context.Background(), "missing"); ok {
		t.Fatalf("unexpected hit for unknown hash")
	}
}

func TestListPapersFailedFilter(t *testing.T) {
	s := NewMemory()
	ingestOne(t, s, "good", "h1", 1)

	tx, _ := s.BeginPaperUpdate(context.Background())
	_ = tx.UpsertPaper(context.Background(), thothmodel.Paper{ID: "bad"})
	_ = tx.Commit(context.Background())
	_ = s.RecordFailure(context.Background(), FailureRecord{PaperID: "bad", ErrorKind: "fatal", UpdatedAt: time.Now()})

	failed, err := s.ListPapers(context.Background(), PaperFilter{Status: StatusFailed})
	if err != nil {
		t.Fatalf("ListPapers: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "bad" {
		t.Fatalf("failed filter returned %+v", failed)
	}

	tagged, err := s.ListPapers(context.Background(), PaperFilter{Tag: "nlp"})
	if err != nil {
		t.Fatalf("ListPapers(tag): %v", err)
	}
	if len(tagged) != 1 || tagged[0].ID != "good" {
		t.Fatalf("tag filter returned %+v", tagged)
	}
}

func TestPruneVersionRemovesRowAndCitations(t *testing.T) {
	s := NewMemory()
	ingestOne(t, s, "p1", "h1", 1)
	ingestOne(t, s, "p1", "h1", 2)

	if err := s.PruneVersion(context.Background(), "p1", 1); err != nil {
		t.Fatalf("PruneVersion: %v", err)
	}
	if _, ok, _ := s.GetVersion(context.Background(), "p1", 1); ok {
		t.Fatalf("pruned version still present")
	}
	cs, _ := s.ListCitations(context.Background(), "p1", 1)
	if len(cs) != 0 {
		t.Fatalf("pruned version's citations still present: %+v", cs)
	}
	if active, ok, _ := s.GetActiveVersion(context.Background(), "p1"); !ok || active.Version != 2 {
		t.Fatalf("active version disturbed by prune: ok=%v v=%+v", ok, active)
	}
}

func TestInactiveVersionsOlderThan(t *testing.T) {
	s := NewMemory()
	ingestOne(t, s, "p1", "h1", 1)
	ingestOne(t, s, "p1", "h1", 2)

	keys, err := s.InactiveVersionsOlderThan(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("InactiveVersionsOlderThan: %v", err)
	}
	if len(keys) != 1 || keys[0].Version != 1 {
		t.Fatalf("expected only the superseded version, got %+v", keys)
	}
}
