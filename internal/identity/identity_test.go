package identity

import "testing"

func TestPaperIDPrefersDOIOverArxivOverBytes(t *testing.T) {
	byDOI := PaperID("10.1/abc", "1234.5678", []byte("pdf-bytes"))
	byDOILower := PaperID("10.1/ABC", "", nil)
	if byDOI != byDOILower {
		t.Fatalf("expected DOI hashing to be case-insensitive")
	}

	byArxiv := PaperID("", "1234.5678", []byte("pdf-bytes"))
	if byArxiv == byDOI {
		t.Fatalf("expected different ids for DOI vs arxiv precedence")
	}

	byBytes1 := PaperID("", "", []byte("one"))
	byBytes2 := PaperID("", "", []byte("two"))
	if byBytes1 == byBytes2 {
		t.Fatalf("expected distinct hashes for distinct PDF bytes")
	}
}

func TestCacheFingerprintDeterministic(t *testing.T) {
	a := CacheFingerprint([]string{"x", "y"}, map[string]any{"model": "gpt", "temp": 0.2})
	b := CacheFingerprint([]string{"x", "y"}, map[string]any{"temp": 0.2, "model": "gpt"})
	if a != b {
		t.Fatalf("expected fingerprint to be order-independent over config keys")
	}

	c := CacheFingerprint([]string{"x", "z"}, map[string]any{"model": "gpt", "temp": 0.2})
	if a == c {
		t.Fatalf("expected different fingerprint for different inputs")
	}
}
