package vault

import (
	"context"
	"strings"
	"testing"

	"thoth/internal/objectstore"
)

func TestPutAndReadBackMarkdown(t *testing.T) {
	v := NewWithStore(objectstore.NewMemoryStore())

	if _, err := v.PutMarkdownNoImages(context.Background(), "p1", "# Title\n\nbody"); err != nil {
		t.Fatalf("PutMarkdownNoImages: %v", err)
	}
	got, err := v.GetMarkdownNoImages(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetMarkdownNoImages: %v", err)
	}
	if got != "# Title\n\nbody" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestNoteExistsOnlyAfterPut(t *testing.T) {
	v := NewWithStore(objectstore.NewMemoryStore())

	if v.NoteExists(context.Background(), "p1") {
		t.Fatalf("note reported present before any write")
	}
	if _, err := v.PutNote(context.Background(), "p1", "note body"); err != nil {
		t.Fatalf("PutNote: %v", err)
	}
	if !v.NoteExists(context.Background(), "p1") {
		t.Fatalf("note reported absent after write")
	}
}

func TestDeletePaperRemovesAllArtifacts(t *testing.T) {
	v := NewWithStore(objectstore.NewMemoryStore())
	ctx := context.Background()

	if _, err := v.PutPDF(ctx, "p1", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("PutPDF: %v", err)
	}
	if _, err := v.PutMarkdown(ctx, "p1", "md"); err != nil {
		t.Fatalf("PutMarkdown: %v", err)
	}
	if _, err := v.PutMarkdownNoImages(ctx, "p1", "md"); err != nil {
		t.Fatalf("PutMarkdownNoImages: %v", err)
	}
	if _, err := v.PutNote(ctx, "p1", "note"); err != nil {
		t.Fatalf("PutNote: %v", err)
	}
	if err := v.DeletePaper(ctx, "p1"); err != nil {
		t.Fatalf("DeletePaper: %v", err)
	}
	if v.NoteExists(ctx, "p1") {
		t.Fatalf("note survived DeletePaper")
	}
	if _, err := v.GetMarkdownNoImages(ctx, "p1"); err == nil {
		t.Fatalf("markdown survived DeletePaper")
	}
}

func TestStripImages(t *testing.T) {
	in := "intro ![fig 1](images/fig1.png) middle ![](x.jpg) end"
	got := StripImages(in)
	if strings.Contains(got, "![") || strings.Contains(got, "fig1.png") {
		t.Fatalf("image syntax survived: %q", got)
	}
	if !strings.Contains(got, "intro") || !strings.Contains(got, "middle") || !strings.Contains(got, "end") {
		t.Fatalf("surrounding text damaged: %q", got)
	}
}

func TestStripImagesLeavesMalformedSyntaxAlone(t *testing.T) {
	in := "a ![dangling bracket without closing paren](oops"
	if got := StripImages(in); got != in {
		t.Fatalf("malformed image syntax altered: %q", got)
	}
}
