package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load builds a Config from defaults, an optional YAML file, and the
// process environment, in that order — each later layer overrides the
// one before it. THOTH_CONFIG names the YAML file; if unset or missing
// the YAML layer is skipped. Environment variables are read through
// godotenv.Overload first so a local .env file behaves like exported
// environment variables.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("THOTH_CONFIG")); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	var cfg Config
	cfg.Workdir = "."
	cfg.LogLevel = "info"

	cfg.Watch.DebounceMillis = 500
	cfg.Watch.StableChecks = 3

	cfg.Vault.Backend = "local"
	cfg.Vault.Dir = "./vault"

	cfg.Cache.Backend = "memory"
	cfg.Cache.TTLDays = 30

	cfg.DB.Relational.Backend = "memory"
	cfg.DB.Search.Backend = "memory"
	cfg.DB.Vector.Backend = "memory"
	cfg.DB.Vector.Dimensions = 768
	cfg.DB.Vector.Metric = "cosine"
	cfg.DB.Graph.Backend = "memory"

	cfg.Embedding.Path = "/embeddings"
	cfg.Embedding.APIHeader = "Authorization"
	cfg.Embedding.Timeout = 30
	cfg.Embedding.Dimensions = 768

	cfg.Gateway.RateLimitRPS = 2
	cfg.Gateway.RateLimitBurst = 4
	cfg.Gateway.MaxRetries = 3
	cfg.Gateway.RetryBaseDelay = 500

	cfg.LLMClient.Provider = "openai"
	cfg.LLMClient.OpenAI.API = "completions"

	cfg.Analysis.ContextTokens = 8192
	cfg.Analysis.SchemaVersion = "v1"

	cfg.QA.MinSimilarity = 0.2

	cfg.RAG.ChunkTokens = 1000
	cfg.RAG.ChunkOverlap = 200
	cfg.RAG.DefaultK = 8
	cfg.RAG.DenseK = 32
	cfg.RAG.LexicalK = 32
	cfg.RAG.RRFConstant = 60

	cfg.Pipeline.Workers = 4
	cfg.Pipeline.DocumentTimeoutSeconds = 600
	cfg.Pipeline.EventsTopic = "paper.ingested"

	cfg.Discovery.Threshold = 0.6

	cfg.OTel.ServiceName = "thoth"
	cfg.OTel.ServiceVersion = "dev"
	cfg.OTel.Environment = "development"

	return cfg
}

func applyEnv(cfg *Config) {
	if v := trim(os.Getenv("WORKDIR")); v != "" {
		cfg.Workdir = v
	}
	if v := trim(os.Getenv("LOG_PATH")); v != "" {
		cfg.LogPath = v
	}
	if v := trim(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}

	if v := trim(os.Getenv("WATCH_DIR")); v != "" {
		cfg.Watch.Dir = v
	}
	if n, ok := intEnv("WATCH_DEBOUNCE_MS"); ok {
		cfg.Watch.DebounceMillis = n
	}
	if n, ok := intEnv("WATCH_STABLE_CHECKS"); ok {
		cfg.Watch.StableChecks = n
	}

	if v := trim(os.Getenv("VAULT_DIR")); v != "" {
		cfg.Vault.Dir = v
	}
	if v := trim(os.Getenv("VAULT_BACKEND")); v != "" {
		cfg.Vault.Backend = v
	}
	if v := trim(os.Getenv("VAULT_S3_BUCKET")); v != "" {
		cfg.Vault.S3.Bucket = v
	}
	if v := trim(os.Getenv("VAULT_S3_ENDPOINT")); v != "" {
		cfg.Vault.S3.Endpoint = v
	}
	if v := trim(os.Getenv("VAULT_S3_REGION")); v != "" {
		cfg.Vault.S3.Region = v
	}
	if v := trim(os.Getenv("VAULT_S3_ACCESS_KEY")); v != "" {
		cfg.Vault.S3.AccessKey = v
	}
	if v := trim(os.Getenv("VAULT_S3_SECRET_KEY")); v != "" {
		cfg.Vault.S3.SecretKey = v
	}
	if v := trim(os.Getenv("VAULT_S3_PREFIX")); v != "" {
		cfg.Vault.S3.Prefix = v
	}

	if v := trim(os.Getenv("CACHE_BACKEND")); v != "" {
		cfg.Cache.Backend = v
	}
	if v := trim(os.Getenv("CACHE_DSN")); v != "" {
		cfg.Cache.DSN = v
	}

	if v := firstNonEmpty(trim(os.Getenv("DB_DSN")), trim(os.Getenv("DATABASE_URL"))); v != "" {
		cfg.DB.DefaultDSN = v
	}
	if v := trim(os.Getenv("RELATIONAL_BACKEND")); v != "" {
		cfg.DB.Relational.Backend = v
	}
	if v := trim(os.Getenv("RELATIONAL_DSN")); v != "" {
		cfg.DB.Relational.DSN = v
	}
	if v := trim(os.Getenv("SEARCH_BACKEND")); v != "" {
		cfg.DB.Search.Backend = v
	}
	if v := trim(os.Getenv("SEARCH_DSN")); v != "" {
		cfg.DB.Search.DSN = v
	}
	if v := trim(os.Getenv("VECTOR_BACKEND")); v != "" {
		cfg.DB.Vector.Backend = v
	}
	if v := trim(os.Getenv("VECTOR_DSN")); v != "" {
		cfg.DB.Vector.DSN = v
	}
	if v := trim(os.Getenv("VECTOR_COLLECTION")); v != "" {
		cfg.DB.Vector.Collection = v
	}
	if n, ok := intEnv("VECTOR_DIMENSIONS"); ok {
		cfg.DB.Vector.Dimensions = n
	}
	if v := trim(os.Getenv("VECTOR_METRIC")); v != "" {
		cfg.DB.Vector.Metric = v
	}
	if v := trim(os.Getenv("GRAPH_BACKEND")); v != "" {
		cfg.DB.Graph.Backend = v
	}
	if v := trim(os.Getenv("GRAPH_DSN")); v != "" {
		cfg.DB.Graph.DSN = v
	}

	if v := trim(os.Getenv("EMBEDDING_BASE_URL")); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := trim(os.Getenv("EMBEDDING_PATH")); v != "" {
		cfg.Embedding.Path = v
	}
	if v := trim(os.Getenv("EMBEDDING_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := trim(os.Getenv("EMBEDDING_MODEL")); v != "" {
		cfg.Embedding.Model = v
	}
	if n, ok := intEnv("EMBEDDING_DIMENSIONS"); ok {
		cfg.Embedding.Dimensions = n
	}

	cfg.LLMClient.Provider = firstNonEmpty(trim(os.Getenv("LLM_PROVIDER")), cfg.LLMClient.Provider)

	if v := trim(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.LLMClient.OpenAI.APIKey = v
	}
	if v := trim(os.Getenv("OPENAI_MODEL")); v != "" {
		cfg.LLMClient.OpenAI.Model = v
	}
	if v := firstNonEmpty(trim(os.Getenv("OPENAI_BASE_URL")), trim(os.Getenv("OPENAI_API_BASE_URL"))); v != "" {
		cfg.LLMClient.OpenAI.BaseURL = v
	}
	if v := trim(os.Getenv("LOG_PAYLOADS")); v != "" {
		cfg.LLMClient.OpenAI.LogPayloads = boolEnv(v)
	}

	if v := trim(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.LLMClient.Anthropic.APIKey = v
	}
	if v := trim(os.Getenv("ANTHROPIC_MODEL")); v != "" {
		cfg.LLMClient.Anthropic.Model = v
	}
	if v := trim(os.Getenv("ANTHROPIC_BASE_URL")); v != "" {
		cfg.LLMClient.Anthropic.BaseURL = v
	}

	if v := trim(os.Getenv("GOOGLE_LLM_API_KEY")); v != "" {
		cfg.LLMClient.Google.APIKey = v
	}
	if v := trim(os.Getenv("GOOGLE_LLM_MODEL")); v != "" {
		cfg.LLMClient.Google.Model = v
	}
	if v := trim(os.Getenv("GOOGLE_LLM_BASE_URL")); v != "" {
		cfg.LLMClient.Google.BaseURL = v
	}

	if v := trim(os.Getenv("ANALYSIS_MODEL")); v != "" {
		cfg.Analysis.Model = v
	}
	if n, ok := intEnv("ANALYSIS_CONTEXT_TOKENS"); ok {
		cfg.Analysis.ContextTokens = n
	}
	if v := trim(os.Getenv("CITATIONS_MODEL")); v != "" {
		cfg.Citations.Model = v
	}
	if v := trim(os.Getenv("QA_MODEL")); v != "" {
		cfg.QA.Model = v
	}
	if n, ok := intEnv("PIPELINE_WORKERS"); ok {
		cfg.Pipeline.Workers = n
	}
	if n, ok := intEnv("PIPELINE_DOCUMENT_TIMEOUT_SECONDS"); ok {
		cfg.Pipeline.DocumentTimeoutSeconds = n
	}
	if v := trim(os.Getenv("PIPELINE_EVENTS_BROKER")); v != "" {
		cfg.Pipeline.EventsBrokerAddr = v
	}
	if v := trim(os.Getenv("PIPELINE_EVENTS_TOPIC")); v != "" {
		cfg.Pipeline.EventsTopic = v
	}
	if n, ok := floatEnv("DISCOVERY_THRESHOLD"); ok {
		cfg.Discovery.Threshold = n
	}
	if v := trim(os.Getenv("DISCOVERY_MODEL")); v != "" {
		cfg.Discovery.Model = v
	}

	if v := trim(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.OTel.OTLP = v
	}
	if v := trim(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		cfg.OTel.ServiceName = v
	}
	if v := trim(os.Getenv("OTEL_ENVIRONMENT")); v != "" {
		cfg.OTel.Environment = v
	}
}

func trim(s string) string { return strings.TrimSpace(s) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string) (int, bool) {
	v := trim(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func boolEnv(v string) bool {
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func floatEnv(key string) (float64, bool) {
	v := trim(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
