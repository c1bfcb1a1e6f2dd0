package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"thoth/internal/cache"
	"thoth/internal/config"
)

func testGateway(t *testing.T, ts *httptest.Server) *Gateway {
	t.Helper()
	cfg := config.GatewayConfig{
		DOI:             config.ServiceEndpoint{BaseURL: ts.URL, Timeout: 5},
		OpenAlex:        config.ServiceEndpoint{BaseURL: ts.URL, Timeout: 5},
		Arxiv:           config.ServiceEndpoint{BaseURL: ts.URL, Timeout: 5},
		SemanticScholar: config.ServiceEndpoint{BaseURL: ts.URL, Timeout: 5},
		OCR:             config.ServiceEndpoint{BaseURL: ts.URL, Timeout: 5},
		RateLimitRPS:    1000,
		RateLimitBurst:  1000,
		MaxRetries:      3,
		RetryBaseDelay:  1,
	}
	return New(cfg, cache.New(cache.NewMemoryStore()), nil, ts.Client())
}

func TestCallUnknownServiceIsFatal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()
	gw := testGateway(t, ts)

	_, err := gw.Call(context.Background(), "nope", Request{})
	if err == nil {
		t.Fatalf("expected error for unknown service")
	}
}

func TestCallRetriesTransientThenSucceeds(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"message":{"DOI":"10.1/x"}}`))
	}))
	defer ts.Close()
	gw := testGateway(t, ts)

	work, err := gw.LookupDOI(context.Background(), "10.1/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if work.Message.DOI != "10.1/x" {
		t.Fatalf("unexpected DOI: %+v", work)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestCallDoesNotRetryUpstream4xx(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()
	gw := testGateway(t, ts)

	_, err := gw.LookupDOI(context.Background(), "10.1/bad")
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", got)
	}
}

func TestCallCachesRepeatedRequests(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"message":{"DOI":"10.1/cached"}}`))
	}))
	defer ts.Close()
	gw := testGateway(t, ts)

	for i := 0; i < 5; i++ {
		if _, err := gw.LookupDOI(context.Background(), "10.1/cached"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly 1 upstream hit across 5 identical calls, got %d", got)
	}
}

func TestOCRExtractRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["pdf_base64"] == "" {
			t.Fatalf("expected non-empty pdf_base64")
		}
		w.Write([]byte(`{"text":"extracted"}`))
	}))
	defer ts.Close()
	gw := testGateway(t, ts)

	text, err := gw.OCRExtract(context.Background(), []byte("%PDF-1.4 fake"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "extracted" {
		t.Fatalf("expected extracted text, got %q", text)
	}
}

func TestCallStructuredRejectsWithoutProvider(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()
	gw := testGateway(t, ts)

	_, err := gw.CallStructured(context.Background(), StructuredRequest{Model: "m", Prompt: "p"})
	if err == nil {
		t.Fatalf("expected error when no llm provider is configured")
	}
}

func TestTokenBucketLimitsThroughput(t *testing.T) {
	b := newTokenBucket(1000, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("unexpected wait error: %v", err)
		}
	}
	// burst 1 at 1000 rps: the second and third takes each wait at least 1ms
	if elapsed := time.Since(start); elapsed < 2*time.Millisecond {
		t.Fatalf("expected the bucket to throttle 3 takes past its burst, took only %v", elapsed)
	}
}
