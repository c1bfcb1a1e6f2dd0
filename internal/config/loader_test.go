package config

import (
	"os"
	"testing"
)

func TestFirstNonEmpty(t *testing.T) {
	if v := firstNonEmpty("", "foo", "bar"); v != "foo" {
		t.Fatalf("expected 'foo', got %q", v)
	}
	if v := firstNonEmpty(); v != "" {
		t.Fatalf("expected empty, got %q", v)
	}
}

func TestIntEnv(t *testing.T) {
	key := "THOTH_TEST_INT_ENV"
	old := os.Getenv(key)
	defer func() { _ = os.Setenv(key, old) }()

	_ = os.Unsetenv(key)
	if _, ok := intEnv(key); ok {
		t.Fatalf("expected not ok for unset var")
	}
	_ = os.Setenv(key, "123")
	n, ok := intEnv(key)
	if !ok || n != 123 {
		t.Fatalf("expected 123, got %d (ok=%v)", n, ok)
	}
}

func TestLoadAppliesDefaultsAndEnvOverrides(t *testing.T) {
	keys := []string{"WATCH_DIR", "VECTOR_BACKEND", "LLM_PROVIDER", "ANTHROPIC_API_KEY"}
	old := map[string]string{}
	for _, k := range keys {
		old[k] = os.Getenv(k)
	}
	defer func() {
		for _, k := range keys {
			_ = os.Setenv(k, old[k])
		}
	}()

	_ = os.Setenv("WATCH_DIR", "/tmp/watch")
	_ = os.Setenv("VECTOR_BACKEND", "qdrant")
	_ = os.Setenv("LLM_PROVIDER", "anthropic")
	_ = os.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watch.Dir != "/tmp/watch" {
		t.Fatalf("expected WATCH_DIR override, got %q", cfg.Watch.Dir)
	}
	if cfg.DB.Vector.Backend != "qdrant" {
		t.Fatalf("expected vector backend override, got %q", cfg.DB.Vector.Backend)
	}
	if cfg.LLMClient.Provider != "anthropic" {
		t.Fatalf("expected provider override, got %q", cfg.LLMClient.Provider)
	}
	if cfg.LLMClient.Anthropic.APIKey != "sk-test" {
		t.Fatalf("expected anthropic key override")
	}
	// untouched defaults still present
	if cfg.Cache.Backend != "memory" {
		t.Fatalf("expected default cache backend, got %q", cfg.Cache.Backend)
	}
}
