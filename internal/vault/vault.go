// Package vault is the per-paper artifact store: one PDF, a
// with-images markdown, a no-images markdown, and a rendered note per
// paper, addressed by paper id rather than by raw object key. It
// wraps internal/objectstore's pluggable backends (local filesystem
// by default, S3 when configured) so the rest of Thoth never
// constructs vault-relative paths by hand.
package vault

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"thoth/internal/config"
	"thoth/internal/objectstore"
)

// Vault stores and retrieves a paper's on-disk artifacts.
type Vault struct {
	store objectstore.ObjectStore
}

// New builds a Vault from cfg: a LocalStore rooted at cfg.Dir by
// default, or an S3Store when cfg.Backend is "s3".
func New(ctx context.Context, cfg config.VaultConfig) (*Vault, error) {
	switch cfg.Backend {
	case "", "local":
		dir := cfg.Dir
		if dir == "" {
			dir = "./vault"
		}
		ls, err := objectstore.NewLocalStore(dir)
		if err != nil {
			return nil, fmt.Errorf("vault: open local store: %w", err)
		}
		return &Vault{store: ls}, nil
	case "s3":
		s3s, err := objectstore.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("vault: open s3 store: %w", err)
		}
		return &Vault{store: s3s}, nil
	default:
		return nil, fmt.Errorf("vault: unsupported backend %q", cfg.Backend)
	}
}

// NewWithStore builds a Vault directly over an existing ObjectStore,
// for tests and for callers that already hold a MemoryStore.
func NewWithStore(store objectstore.ObjectStore) *Vault {
	return &Vault{store: store}
}

func pdfKey(paperID string) string           { return paperID + "/source.pdf" }
func markdownKey(paperID string) string      { return paperID + "/with_images.md" }
func markdownNoImgKey(paperID string) string { return paperID + "/no_images.md" }
func noteKey(paperID string) string          { return paperID + "/note.md" }

// PutPDF stores the original PDF bytes for paperID and returns a
// vault-addressable path for Paper.PDFPath.
func (v *Vault) PutPDF(ctx context.Context, paperID string, data []byte) (string, error) {
	return v.put(ctx, pdfKey(paperID), data, "application/pdf")
}

// PutMarkdown stores the with-images OCR markdown and returns its
// vault-addressable path for Paper.MarkdownPathWithImages.
func (v *Vault) PutMarkdown(ctx context.Context, paperID, markdown string) (string, error) {
	return v.put(ctx, markdownKey(paperID), []byte(markdown), "text/markdown")
}

// PutMarkdownNoImages stores the image-stripped canonical markdown
// used for embeddings and returns its vault-addressable path for
// Paper.MarkdownPathNoImages.
func (v *Vault) PutMarkdownNoImages(ctx context.Context, paperID, markdown string) (string, error) {
	return v.put(ctx, markdownNoImgKey(paperID), []byte(markdown), "text/markdown")
}

// PutNote stores a rendered note and returns its vault-addressable
// path.
func (v *Vault) PutNote(ctx context.Context, paperID, note string) (string, error) {
	return v.put(ctx, noteKey(paperID), []byte(note), "text/markdown")
}

func (v *Vault) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if _, err := v.store.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("vault: put %s: %w", key, err)
	}
	return v.resolvePath(key), nil
}

// resolvePath returns an absolute filesystem path for a LocalStore,
// or the bare key for any other backend, where callers treat the
// path as opaque. Stored paper paths are always absolute on the
// local backend.
func (v *Vault) resolvePath(key string) string {
	if ls, ok := v.store.(interface{ AbsPath(string) (string, error) }); ok {
		if p, err := ls.AbsPath(key); err == nil {
			return p
		}
	}
	return key
}

// GetMarkdownNoImages reads back the no-images markdown for paperID,
// used by the pipeline when re-chunking an already-ingested version.
func (v *Vault) GetMarkdownNoImages(ctx context.Context, paperID string) (string, error) {
	r, _, err := v.store.Get(ctx, markdownNoImgKey(paperID))
	if err != nil {
		return "", err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// NotePath returns the vault-addressable path a note for paperID
// would have, without requiring it already exist, so the renderer's
// CitationLinkResolver can answer "does a local note exist for this
// cited paper" without a round trip.
func (v *Vault) NotePath(paperID string) string {
	return v.resolvePath(noteKey(paperID))
}

// NoteExists reports whether paperID has a rendered note on file.
func (v *Vault) NoteExists(ctx context.Context, paperID string) bool {
	ok, err := v.store.Exists(ctx, noteKey(paperID))
	return err == nil && ok
}

// DeletePaper removes every artifact for paperID; paper deletion
// cascades down to the vault.
func (v *Vault) DeletePaper(ctx context.Context, paperID string) error {
	for _, key := range []string{pdfKey(paperID), markdownKey(paperID), markdownNoImgKey(paperID), noteKey(paperID)} {
		if err := v.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("vault: delete %s: %w", key, err)
		}
	}
	return nil
}

// StripImages removes markdown image syntax (`![alt](src)`) from
// markdown, producing the no-images canonical text used for chunking
// and embeddings. The OCR gateway only returns one markdown variant
// (with images); the vault derives the second variant itself.
func StripImages(markdown string) string {
	var out strings.Builder
	i := 0
	for i < len(markdown) {
		if markdown[i] == '!' && i+1 < len(markdown) && markdown[i+1] == '[' {
			if end := skipImage(markdown, i); end > i {
				i = end
				continue
			}
		}
		out.WriteByte(markdown[i])
		i++
	}
	return out.String()
}

// skipImage returns the index just past a well-formed ![...](...) at
// position i, or i itself if none is found there.
func skipImage(s string, i int) int {
	closeBracket := strings.IndexByte(s[i+2:], ']')
	if closeBracket < 0 {
		return i
	}
	j := i + 2 + closeBracket + 1
	if j >= len(s) || s[j] != '(' {
		return i
	}
	closeParen := strings.IndexByte(s[j+1:], ')')
	if closeParen < 0 {
		return i
	}
	return j + 1 + closeParen + 1
}
