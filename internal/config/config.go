package config

// Config is the fully resolved, immutable configuration for a Thoth
// process. It is built once by Load and passed down explicitly; no
// package in this tree consults a global config singleton.
type Config struct {
	Workdir  string // root directory for vault/db defaults when unset
	LogPath  string
	LogLevel string

	Watch   WatchConfig
	Vault   VaultConfig
	DB      DBConfig
	Cache   CacheConfig
	Gateway GatewayConfig

	Embedding EmbeddingConfig
	LLMClient LLMClientConfig

	Analysis  AnalysisConfig
	Citations CitationsConfig
	QA        QAConfig
	RAG       RAGConfig
	Pipeline  PipelineConfig
	Discovery DiscoveryConfig

	OTel ObsConfig
}

// AnalysisConfig selects the model and context window the analysis engine uses for
// structured extraction, and the schema-version string baked into
// every analysis fingerprint.
type AnalysisConfig struct {
	Model         string
	ContextTokens int
	SchemaVersion string
}

// CitationsConfig selects the model used for raw citation extraction
// ahead of the resolution chain.
type CitationsConfig struct {
	Model string
}

// QAConfig selects the model ask() uses to synthesize an answer
// from retrieved chunks.
type QAConfig struct {
	Model         string
	MinSimilarity float64
}

// RAGConfig configures chunking and hybrid-retrieval defaults.
type RAGConfig struct {
	ChunkTokens  int
	ChunkOverlap int
	DefaultK     int
	DenseK       int
	LexicalK     int
	RRFConstant  int
}

// PipelineConfig configures the pipeline's worker pool, per-document deadline,
// and optional fire-and-forget activation event publishing.
type PipelineConfig struct {
	Workers                int
	DocumentTimeoutSeconds int
	MaxInactiveVersionAge  int // days; 0 disables pruning

	EventsBrokerAddr string // kafka-go broker; empty disables publishing
	EventsTopic      string
}

// DiscoveryConfig configures the discovery filter's acceptance threshold and the model
// used for its LLM rubric scoring call.
type DiscoveryConfig struct {
	Threshold float64
	Model     string
}

// WatchConfig configures the directory watched for new/changed PDFs.
type WatchConfig struct {
	Dir            string
	DebounceMillis int
	StableChecks   int
}

// VaultConfig locates the per-paper artifact store (PDF + markdown note).
// Backend "local" uses the filesystem directly under Dir; "s3" delegates
// to an S3Config-backed object store.
type VaultConfig struct {
	Dir     string
	Backend string // "local" (default) or "s3"
	S3      S3Config
}

// CacheConfig configures the content-addressed cache.
type CacheConfig struct {
	Backend string // "memory" (default), "postgres" or "redis"
	DSN     string
	TTLDays int
}

// GatewayConfig configures the external-service gateway: per-service
// endpoints plus the shared rate-limit and retry policy.
type GatewayConfig struct {
	OCR             ServiceEndpoint
	DOI             ServiceEndpoint
	OpenAlex        ServiceEndpoint
	Arxiv           ServiceEndpoint
	SemanticScholar ServiceEndpoint
	WebSearch       ServiceEndpoint

	RateLimitRPS   float64
	RateLimitBurst int
	MaxRetries     int
	RetryBaseDelay int // milliseconds
}

// ServiceEndpoint names one externally-reachable HTTP service.
type ServiceEndpoint struct {
	BaseURL string
	APIKey  string
	Timeout int // seconds
}

// DBConfig selects and configures the relational/search/vector/graph
// backends shared by the rag and graph packages.
type DBConfig struct {
	DefaultDSN string
	Relational RelationalConfig
	Search     SearchConfig
	Vector     VectorConfig
	Graph      GraphConfig
}

// RelationalConfig selects the backend behind internal/relstore: the
// authoritative papers/processing_versions/citations tables.
type RelationalConfig struct {
	Backend string // "memory" (default) | "postgres"
	DSN     string
}

type SearchConfig struct {
	Backend string // "memory" | "auto" | "postgres" | "none"
	DSN     string
}

type VectorConfig struct {
	Backend    string // "memory" | "auto" | "postgres" | "qdrant" | "none"
	DSN        string
	Collection string
	Dimensions int
	Metric     string // "cosine" | "l2" | "dot"
}

type GraphConfig struct {
	Backend string // "memory" | "auto" | "postgres" | "none"
	DSN     string
}

// EmbeddingConfig configures the HTTP embedding endpoint used by
// internal/rag/embedder.
type EmbeddingConfig struct {
	BaseURL    string
	Path       string
	APIKey     string
	APIHeader  string
	Model      string
	Dimensions int
	Timeout    int // seconds
}

// LLMClientConfig selects and configures one of the structured-output
// capable LLM providers used by the gateway and analysis engine.
type LLMClientConfig struct {
	Provider  string // "openai" (default) | "local" | "anthropic" | "google"
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	API         string // "completions" (default) or "responses"
	LogPayloads bool
	ExtraParams map[string]any
}

type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

// S3Config configures an S3-compatible object store backend.
type S3Config struct {
	Bucket                string
	Endpoint              string
	Region                string
	AccessKey             string
	SecretKey             string
	Prefix                string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

type S3SSEConfig struct {
	Mode     string // "", "AES256", "aws:kms"
	KMSKeyID string
}

// ObsConfig configures the OpenTelemetry exporters.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}
