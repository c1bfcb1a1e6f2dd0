// Package identity computes the stable content-derived ids used
// throughout Thoth: paper ids (a hash of the paper's canonical
// identifier) and cache fingerprints (inputs+config-subset).
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// PaperID derives the stable id for a paper from, in priority order,
// its DOI, its arXiv id, or the raw PDF bytes. Exactly one of doi,
// arxivID, pdfBytes should be the deciding input per call; the others
// are accepted empty/nil so callers can pass whatever they have.
func PaperID(doi, arxivID string, pdfBytes []byte) string {
	doi = strings.ToLower(strings.TrimSpace(doi))
	arxivID = strings.ToLower(strings.TrimSpace(arxivID))

	switch {
	case doi != "":
		return hashString("doi:" + doi)
	case arxivID != "":
		return hashString("arxiv:" + arxivID)
	default:
		h := sha256.Sum256(pdfBytes)
		return hex.EncodeToString(h[:])
	}
}

// CacheFingerprint hashes its input strings and a config subset
// (rendered deterministically) into the fingerprint half of a
// content-cache key; the artifact kind is the other half and is not
// hashed here.
func CacheFingerprint(inputs []string, configSubset map[string]any) string {
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString(in)
		b.WriteByte('\x1f')
	}
	for _, k := range sortedKeys(configSubset) {
		fmt.Fprintf(&b, "%s=%v\x1f", k, configSubset[k])
	}
	return hashString(b.String())
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
