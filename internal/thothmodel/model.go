// Package thothmodel defines the core entities shared across Thoth's
// components: papers, citations, processing versions, chunks, cache
// entries and research queries. Types here are plain structs; the
// packages that own persistence (internal/graph, internal/cache,
// internal/rag) translate to and from their own storage shapes.
package thothmodel

import "time"

// ResolverStage records which resolution stage, if any, produced a
// Citation's resolved identifier.
type ResolverStage string

const (
	ResolverDOI        ResolverStage = "doi"
	ResolverOpenAlex   ResolverStage = "openalex"
	ResolverArxiv      ResolverStage = "arxiv"
	ResolverFuzzy      ResolverStage = "fuzzy"
	ResolverUnresolved ResolverStage = "unresolved"
)

// SourceKind distinguishes a chunk extracted from the paper body from
// one generated as part of the rendered note.
type SourceKind string

const (
	SourcePaperBody     SourceKind = "paper_body"
	SourceGeneratedNote SourceKind = "generated_note"
)

// Paper is a processed academic document, identified by a stable
// content-derived id. A Paper's mutable ingestion state lives in its
// ProcessingVersion rows; Paper itself carries the fields that are
// invariant across re-ingestion plus a pointer at the currently active
// version's derived fields for convenient reads.
type Paper struct {
	ID       string // hash of canonical identifier, see internal/identity
	Title    string
	Authors  []string
	Year     int
	Venue    string
	DOI      string
	ArxivID  string
	Abstract string
	Tags     []string

	// ContentHash is the SHA-256 of the source PDF bytes, kept
	// alongside ID so re-ingestion checks can look a file up by its
	// bytes even when ID is DOI- or arXiv-derived.
	ContentHash string

	PDFPath                string
	MarkdownPathWithImages string
	MarkdownPathNoImages   string

	Analysis            Analysis
	EmbeddingsGenerated bool
	LLMModelUsed        string
	ProcessingVersion   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Analysis is the structured-extraction result produced by the
// analysis engine: summary, key findings, abstract, methodology,
// results, limitations, related work, tags, and any schema-defined
// extension fields the configured prompt requested.
type Analysis struct {
	Summary     string
	KeyFindings []string
	Abstract    string
	Methodology string
	Results     string
	Limitations []string
	RelatedWork string
	Tags        []string
	Extensions  map[string]any
}

// Citation is a directed edge from a citing paper to a cited paper,
// plus the raw extraction that produced it.
type Citation struct {
	ID                string
	CitingPaperID     string
	CitationText      string
	ExtractedTitle    string
	ExtractedAuthors  []string
	ExtractedYear     int
	ExtractedVenue    string
	ResolvedDOI       string
	ResolvedArxivID   string
	CitedPaperID      string // empty when unresolved
	IsInfluential     bool
	Confidence        float64
	ResolverStage     ResolverStage
	ProcessingVersion int
}

// Clamp01 clamps a confidence/similarity score into [0,1]. Every
// constructor in this package and in internal/resolve routes scores
// through this rather than trusting call sites to clamp.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NewCitation builds a Citation with its confidence clamped to [0,1]
// and the doi/openalex/arxiv-exact-match invariant enforced: those
// resolver stages always carry confidence 1.0.
func NewCitation(c Citation) Citation {
	switch c.ResolverStage {
	case ResolverDOI, ResolverOpenAlex, ResolverArxiv:
		c.Confidence = 1.0
	default:
		c.Confidence = Clamp01(c.Confidence)
	}
	return c
}

// ProcessingVersion is a point-in-time snapshot of a paper's
// ingestion. Exactly one version per paper has IsActive=true.
type ProcessingVersion struct {
	PaperID          string
	Version          int
	LLMModel         string
	ProcessingConfig map[string]any
	MarkdownContent  string // no-images variant; canonical text for embeddings
	Analysis         Analysis
	IsActive         bool
	ProcessedAt      time.Time
}

// Chunk is a unit of indexed text belonging to one ProcessingVersion.
type Chunk struct {
	ID                string
	PaperID           string
	ProcessingVersion int
	SourceKind        SourceKind
	Ordinal           int
	Text              string
	Embedding         []float32
	Metadata          map[string]string // section heading, page hint, ...
}

// CacheEntry is a generic cached artifact keyed by (kind, fingerprint).
type CacheEntry struct {
	Kind        string
	Fingerprint string
	Value       []byte
	Size        int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the entry should be ignored for reads.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// ResearchQuery is a stored interest profile used read-only by the
// discovery filter.
type ResearchQuery struct {
	Name        string
	Description string
	Keywords    []string
	Include     []string
	Exclude     []string
	Schedule    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CandidateMeta is the structural shape a Source yields for one
// discovered candidate, ahead of relevance filtering and ingestion.
type CandidateMeta struct {
	Title    string
	Authors  []string
	Year     int
	Venue    string
	DOI      string
	ArxivID  string
	Abstract string
	PDFURL   string
}
