package analysis

import (
	"context"
	"encoding/json"
	"testing"

	"thoth/internal/cache"
	"thoth/internal/config"
	"thoth/internal/gateway"
	"thoth/internal/llm"
	"thoth/internal/thothmodel"
)

type fakeProvider struct {
	reply string
	calls int
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	f.calls++
	return llm.Message{Role: "assistant", Content: f.reply}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func validReply() string {
	b, _ := json.Marshal(record{
		Summary:     "a summary",
		KeyFindings: []string{"finding one"},
		Methodology: "method",
		Limitations: []string{"limitation one"},
	})
	return string(b)
}

func TestAnalyzeDirectStrategyForShortDocument(t *testing.T) {
	fp := &fakeProvider{reply: validReply()}
	gw := gateway.New(config.GatewayConfig{}, cache.New(cache.NewMemoryStore()), fp, nil)
	e := New(gw, "test-model", 8192)

	a, strategy, err := e.Analyze(context.Background(), "short paper text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy != StrategyDirect {
		t.Fatalf("expected direct strategy, got %s", strategy)
	}
	if a.Summary != "a summary" {
		t.Fatalf("unexpected summary: %q", a.Summary)
	}
	if fp.calls != 1 {
		t.Fatalf("expected exactly 1 llm call, got %d", fp.calls)
	}
}

func TestAnalyzeSchemaViolationYieldsPartial(t *testing.T) {
	fp := &fakeProvider{reply: "not json"}
	gw := gateway.New(config.GatewayConfig{}, cache.New(cache.NewMemoryStore()), fp, nil)
	e := New(gw, "test-model", 8192)

	a, _, err := e.Analyze(context.Background(), "short paper text")
	if err != nil {
		t.Fatalf("expected schema violation to degrade to partial, not error: %v", err)
	}
	if a.Extensions["partial"] != "true" {
		t.Fatalf("expected partial marker, got %+v", a.Extensions)
	}
}

func TestReduceDedupesFindings(t *testing.T) {
	merged := Reduce([]thothmodel.Analysis{
		{Summary: "s1", KeyFindings: []string{"Finding A", "finding a"}},
		{Summary: "s2", KeyFindings: []string{"Finding A", "Finding B"}},
	})
	if len(merged.KeyFindings) != 2 {
		t.Fatalf("expected deduped findings, got %v", merged.KeyFindings)
	}
	if merged.Summary != "s1 s2" {
		t.Fatalf("expected concatenated summary, got %q", merged.Summary)
	}
}
