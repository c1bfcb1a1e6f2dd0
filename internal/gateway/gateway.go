// Package gateway is the single seam between Thoth and every external
// dependency — OCR, DOI/Crossref, OpenAlex, arXiv, Semantic Scholar,
// ad-hoc web search, and the structured-output LLM call used by
// analysis and resolution. Service calls made through Call pass
// through the gateway's rate limiter, its retry policy, and (where the
// caller opts in) the content cache. The LLM calls (CallStructured,
// CallCompletion) and WebSearch go through neither the rate limiter
// nor the retry policy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"thoth/internal/cache"
	"thoth/internal/config"
	"thoth/internal/identity"
	"thoth/internal/llm"
	"thoth/internal/thotherr"
)

// Request describes one call to a named service.
type Request struct {
	Method string // defaults to GET
	Path   string
	Query  map[string]string
	Header map[string]string
	Body   any // JSON-encoded when non-nil

	// Cacheable opts this call into the content cache: identical (service, method,
	// path, query, body) calls within TTL are served from cache and
	// deduplicated in flight via singleflight.
	Cacheable bool
	TTL       time.Duration
}

// service is one registered external endpoint: its base address, a
// rate limiter sized to that upstream's documented limits, and the
// shared retry policy.
type service struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	limiter *tokenBucket
}

// Gateway mediates all outbound calls.
type Gateway struct {
	http     *http.Client
	cache    *cache.Cache
	retry    retryPolicy
	llm      llm.Provider
	services map[string]*service
}

// New builds a Gateway with one registered service per GatewayConfig
// endpoint. Each service gets its own token bucket; the retry policy
// is shared.
func New(cfg config.GatewayConfig, c *cache.Cache, provider llm.Provider, httpClient *http.Client) *Gateway {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	rps := cfg.RateLimitRPS
	burst := cfg.RateLimitBurst
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	baseDelay := time.Duration(cfg.RetryBaseDelay) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}

	gw := &Gateway{
		http:     httpClient,
		cache:    c,
		llm:      provider,
		retry:    retryPolicy{MaxAttempts: retries, BaseDelay: baseDelay},
		services: make(map[string]*service),
	}

	register := func(name string, ep config.ServiceEndpoint) {
		timeout := time.Duration(ep.Timeout) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		gw.services[name] = &service{
			name:    name,
			baseURL: ep.BaseURL,
			apiKey:  ep.APIKey,
			timeout: timeout,
			limiter: newTokenBucket(rps, burst),
		}
	}
	register("ocr", cfg.OCR)
	register("doi", cfg.DOI)
	register("openalex", cfg.OpenAlex)
	register("arxiv", cfg.Arxiv)
	register("semanticscholar", cfg.SemanticScholar)
	register("websearch", cfg.WebSearch)

	return gw
}

// Call invokes the named service, applying that service's rate limit
// and the gateway's retry policy, and transparently serving/populating
// the content cache when req.Cacheable is set.
func (g *Gateway) Call(ctx context.Context, serviceName string, req Request) ([]byte, error) {
	svc, ok := g.services[serviceName]
	if !ok {
		return nil, thotherr.New(thotherr.Fatal, "gateway.Call", fmt.Errorf("unknown service %q", serviceName))
	}

	fetch := func(ctx context.Context) ([]byte, error) {
		if err := svc.limiter.Wait(ctx); err != nil {
			return nil, thotherr.New(thotherr.Cancelled, "gateway.Call", err)
		}
		return g.retry.do(ctx, func(ctx context.Context) ([]byte, error) {
			return doHTTP(ctx, g.http, svc, req)
		})
	}

	if !req.Cacheable || g.cache == nil {
		return fetch(ctx)
	}

	fp := requestFingerprint(serviceName, req)
	return g.cache.Singleflight(ctx, "gateway:"+serviceName, fp, req.TTL, fetch)
}

func requestFingerprint(serviceName string, req Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	keys := make([]string, 0, len(req.Query))
	for k := range req.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	inputs := []string{serviceName, method, req.Path}
	for _, k := range keys {
		inputs = append(inputs, k+"="+req.Query[k])
	}
	if req.Body != nil {
		if raw, err := json.Marshal(req.Body); err == nil {
			inputs = append(inputs, string(raw))
		}
	}
	return identity.CacheFingerprint(inputs, nil)
}

func doHTTP(ctx context.Context, client *http.Client, svc *service, req Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	full := svc.baseURL + req.Path
	if len(req.Query) > 0 {
		q := url.Values{}
		for k, v := range req.Query {
			q.Set(k, v)
		}
		full += "?" + q.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, thotherr.New(thotherr.Fatal, "gateway.doHTTP", err)
		}
		body = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, svc.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return nil, thotherr.New(thotherr.Fatal, "gateway.doHTTP", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	if svc.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+svc.apiKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, thotherr.New(thotherr.Transient, "gateway."+svc.name, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, thotherr.New(thotherr.Transient, "gateway."+svc.name, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return out, nil
	}
	return nil, classifyStatus(svc.name, resp.StatusCode, out)
}

// classifyStatus maps an HTTP status to a thotherr.Kind per the
// gateway's propagation policy: 5xx, 408 and 429 are Transient (the retry
// policy owns them; RateLimited is reserved for the retry budget
// actually running out, not the first 429 observed), 404 is NotFound,
// and other 4xx are Upstream4xx (not retried).
func classifyStatus(svcName string, status int, body []byte) error {
	op := "gateway." + svcName
	msg := fmt.Errorf("status %s: %s", strconv.Itoa(status), truncate(body, 300))
	switch {
	case status == http.StatusNotFound:
		return thotherr.New(thotherr.NotFound, op, msg)
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return thotherr.New(thotherr.Transient, op, msg)
	case status >= 400:
		return thotherr.New(thotherr.Upstream4xx, op, msg)
	default:
		return thotherr.New(thotherr.Fatal, op, msg)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// StructuredRequest asks the gateway's LLM provider for output
// conforming to schema, validating the response and retrying with a
// corrective follow-up turn a bounded number of times before giving
// up with a SchemaViolation error.
type StructuredRequest struct {
	Model          string
	Prompt         string
	SystemPrompt   string
	Schema         *jsonschema.Schema
	MaxCorrections int
	CacheKind      string // when set, response is cached/deduped by prompt+model fingerprint
	TTL            time.Duration
}

// CallStructured asks the LLM for output conforming to req.Schema and
// returns the validated raw JSON.
func (g *Gateway) CallStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	if g.llm == nil {
		return nil, thotherr.New(thotherr.Fatal, "gateway.CallStructured", fmt.Errorf("no llm provider configured"))
	}
	maxCorrections := req.MaxCorrections
	if maxCorrections <= 0 {
		maxCorrections = 2
	}

	build := func(ctx context.Context) ([]byte, error) {
		msgs := []llm.Message{}
		if req.SystemPrompt != "" {
			msgs = append(msgs, llm.Message{Role: "system", Content: req.SystemPrompt})
		}
		msgs = append(msgs, llm.Message{Role: "user", Content: req.Prompt})

		var lastErr error
		for attempt := 0; attempt <= maxCorrections; attempt++ {
			reply, err := g.llm.Chat(ctx, msgs, nil, req.Model)
			if err != nil {
				return nil, thotherr.New(thotherr.Transient, "gateway.CallStructured", err)
			}
			raw := []byte(reply.Content)
			if req.Schema == nil {
				return raw, nil
			}
			if verr := validateStructured(req.Schema, raw); verr == nil {
				return raw, nil
			} else {
				lastErr = verr
				msgs = append(msgs,
					llm.Message{Role: "assistant", Content: reply.Content},
					llm.Message{Role: "user", Content: "That response violated the required schema: " + verr.Error() + ". Reply again with corrected JSON only."},
				)
			}
		}
		return nil, thotherr.New(thotherr.SchemaViolation, "gateway.CallStructured", lastErr)
	}

	if req.CacheKind == "" || g.cache == nil {
		out, err := build(ctx)
		return json.RawMessage(out), err
	}

	fp := identity.CacheFingerprint([]string{req.CacheKind, req.Model, req.SystemPrompt, req.Prompt}, nil)
	out, err := g.cache.Singleflight(ctx, "llm:"+req.CacheKind, fp, req.TTL, build)
	return json.RawMessage(out), err
}

// CompletionRequest describes a free-form (non-schema-validated) chat
// completion, used by ask() to synthesize an answer from retrieved
// chunks.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	CacheKind    string // when set, response is cached/deduped by prompt+model fingerprint
	TTL          time.Duration
}

// CallCompletion issues a plain chat completion through the gateway's
// configured LLM provider, without schema validation. Every LLM call
// in Thoth passes through the gateway, including this one, so
// provider selection and caching stay in one place.
func (g *Gateway) CallCompletion(ctx context.Context, req CompletionRequest) (string, error) {
	if g.llm == nil {
		return "", thotherr.New(thotherr.Fatal, "gateway.CallCompletion", fmt.Errorf("no llm provider configured"))
	}

	build := func(ctx context.Context) ([]byte, error) {
		msgs := []llm.Message{}
		if req.SystemPrompt != "" {
			msgs = append(msgs, llm.Message{Role: "system", Content: req.SystemPrompt})
		}
		msgs = append(msgs, llm.Message{Role: "user", Content: req.Prompt})
		reply, err := g.llm.Chat(ctx, msgs, nil, req.Model)
		if err != nil {
			return nil, thotherr.New(thotherr.Transient, "gateway.CallCompletion", err)
		}
		return []byte(reply.Content), nil
	}

	if req.CacheKind == "" || g.cache == nil {
		out, err := build(ctx)
		return string(out), err
	}

	fp := identity.CacheFingerprint([]string{req.CacheKind, req.Model, req.SystemPrompt, req.Prompt}, nil)
	out, err := g.cache.Singleflight(ctx, "llm:"+req.CacheKind, fp, req.TTL, build)
	return string(out), err
}
