package relstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thoth/internal/thothmodel"
)

// postgresStore is the Postgres-backed Store (jackc/pgx/v5/pgxpool;
// tables papers, processing_versions, citations), following the same
// best-effort CREATE IF NOT EXISTS bootstrap as
// persistence/databases's Postgres adapters.
type postgresStore struct{ pool *pgxpool.Pool }

// NewPostgres builds a Store backed by pool, bootstrapping its tables
// if they don't already exist.
func NewPostgres(pool *pgxpool.Pool) Store {
	ctx := context.Background()
	for _, stmt := range bootstrapStatements {
		_, _ = pool.Exec(ctx, stmt)
	}
	return &postgresStore{pool: pool}
}

var bootstrapStatements = []string{
	`CREATE TABLE IF NOT EXISTS papers (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  authors TEXT[] NOT NULL DEFAULT '{}',
  year INT NOT NULL DEFAULT 0,
  venue TEXT NOT NULL DEFAULT '',
  doi TEXT NOT NULL DEFAULT '',
  arxiv_id TEXT NOT NULL DEFAULT '',
  abstract TEXT NOT NULL DEFAULT '',
  tags TEXT[] NOT NULL DEFAULT '{}',
  content_hash TEXT NOT NULL DEFAULT '',
  pdf_path TEXT NOT NULL DEFAULT '',
  markdown_path_with_images TEXT NOT NULL DEFAULT '',
  markdown_path_no_images TEXT NOT NULL DEFAULT '',
  embeddings_generated BOOLEAN NOT NULL DEFAULT FALSE,
  llm_model_used TEXT NOT NULL DEFAULT '',
  active_version INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS processing_versions (
  paper_id TEXT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
  version INT NOT NULL,
  llm_model TEXT NOT NULL DEFAULT '',
  processing_config JSONB NOT NULL DEFAULT '{}'::jsonb,
  markdown_content TEXT NOT NULL DEFAULT '',
  analysis JSONB NOT NULL DEFAULT '{}'::jsonb,
  is_active BOOLEAN NOT NULL DEFAULT FALSE,
  processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (paper_id, version)
)`,
	`CREATE TABLE IF NOT EXISTS citations (
  id TEXT PRIMARY KEY,
  citing_paper_id TEXT NOT NULL,
  processing_version INT NOT NULL,
  citation_text TEXT NOT NULL DEFAULT '',
  extracted_title TEXT NOT NULL DEFAULT '',
  extracted_authors TEXT[] NOT NULL DEFAULT '{}',
  extracted_year INT NOT NULL DEFAULT 0,
  extracted_venue TEXT NOT NULL DEFAULT '',
  resolved_doi TEXT NOT NULL DEFAULT '',
  resolved_arxiv_id TEXT NOT NULL DEFAULT '',
  cited_paper_id TEXT NOT NULL DEFAULT '',
  is_influential BOOLEAN NOT NULL DEFAULT FALSE,
  confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
  resolver_stage TEXT NOT NULL DEFAULT 'unresolved',
  FOREIGN KEY (citing_paper_id, processing_version) REFERENCES processing_versions(paper_id, version) ON DELETE CASCADE
)`,
	`CREATE INDEX IF NOT EXISTS citations_by_version ON citations(citing_paper_id, processing_version)`,
	`CREATE INDEX IF NOT EXISTS papers_by_content_hash ON papers(content_hash)`,
	`CREATE TABLE IF NOT EXISTS ingestion_failures (
  paper_id TEXT PRIMARY KEY,
  pdf_hash TEXT NOT NULL DEFAULT '',
  error_kind TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL DEFAULT '',
  attempts INT NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS research_queries (
  name TEXT PRIMARY KEY,
  description TEXT NOT NULL DEFAULT '',
  keywords TEXT[] NOT NULL DEFAULT '{}',
  include_criteria TEXT[] NOT NULL DEFAULT '{}',
  exclude_criteria TEXT[] NOT NULL DEFAULT '{}',
  schedule TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

func (s *postgresStore) BeginPaperUpdate(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: begin tx: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

const paperColumns = `id, title, authors, year, venue, doi, arxiv_id, abstract, tags, content_hash, pdf_path,
       markdown_path_with_images, markdown_path_no_images, embeddings_generated,
       llm_model_used, active_version, created_at, updated_at`

func (s *postgresStore) GetPaper(ctx context.Context, paperID string) (thothmodel.Paper, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE id=$1`, paperID)
	return s.scanPaper(ctx, row)
}

func (s *postgresStore) GetPaperByContentHash(ctx context.Context, contentHash string) (thothmodel.Paper, bool, error) {
	if contentHash == "" {
		return thothmodel.Paper{}, false, nil
	}
	row := s.pool.QueryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE content_hash=$1 OR id=$1`, contentHash)
	return s.scanPaper(ctx, row)
}

func (s *postgresStore) scanPaper(ctx context.Context, row pgx.Row) (thothmodel.Paper, bool, error) {
	var p thothmodel.Paper
	var activeVersion int
	if err := row.Scan(&p.ID, &p.Title, &p.Authors, &p.Year, &p.Venue, &p.DOI, &p.ArxivID, &p.Abstract,
		&p.Tags, &p.ContentHash, &p.PDFPath, &p.MarkdownPathWithImages, &p.MarkdownPathNoImages, &p.EmbeddingsGenerated,
		&p.LLMModelUsed, &activeVersion, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return thothmodel.Paper{}, false, nil
		}
		return thothmodel.Paper{}, false, err
	}
	p.ProcessingVersion = activeVersion
	if activeVersion > 0 {
		if pv, ok, err := s.GetVersion(ctx, p.ID, activeVersion); err == nil && ok {
			p.Analysis = pv.Analysis
		}
	}
	return p, true, nil
}

func (s *postgresStore) GetActiveVersion(ctx context.Context, paperID string) (thothmodel.ProcessingVersion, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT active_version FROM papers WHERE id=$1`, paperID)
	var version int
	if err := row.Scan(&version); err != nil {
		if err == pgx.ErrNoRows {
			return thothmodel.ProcessingVersion{}, false, nil
		}
		return thothmodel.ProcessingVersion{}, false, err
	}
	if version == 0 {
		return thothmodel.ProcessingVersion{}, false, nil
	}
	return s.GetVersion(ctx, paperID, version)
}

func (s *postgresStore) GetVersion(ctx context.Context, paperID string, version int) (thothmodel.ProcessingVersion, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT paper_id, version, llm_model, processing_config, markdown_content, analysis, is_active, processed_at
FROM processing_versions WHERE paper_id=$1 AND version=$2`, paperID, version)

	var pv thothmodel.ProcessingVersion
	var cfgRaw, analysisRaw []byte
	if err := row.Scan(&pv.PaperID, &pv.Version, &pv.LLMModel, &cfgRaw, &pv.MarkdownContent, &analysisRaw, &pv.IsActive, &pv.ProcessedAt); err != nil {
		if err == pgx.ErrNoRows {
			return thothmodel.ProcessingVersion{}, false, nil
		}
		return thothmodel.ProcessingVersion{}, false, err
	}
	_ = json.Unmarshal(cfgRaw, &pv.ProcessingConfig)
	var a analysisJSON
	_ = json.Unmarshal(analysisRaw, &a)
	pv.Analysis = a.toModel()
	return pv, true, nil
}

func (s *postgresStore) NextVersion(ctx context.Context, paperID string) (int, error) {
	row := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM processing_versions WHERE paper_id=$1`, paperID)
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (s *postgresStore) ListCitations(ctx context.Context, paperID string, version int) ([]thothmodel.Citation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, citing_paper_id, processing_version, citation_text, extracted_title, extracted_authors,
       extracted_year, extracted_venue, resolved_doi, resolved_arxiv_id, cited_paper_id,
       is_influential, confidence, resolver_stage
FROM citations WHERE citing_paper_id=$1 AND processing_version=$2`, paperID, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []thothmodel.Citation
	for rows.Next() {
		var c thothmodel.Citation
		var stage string
		if err := rows.Scan(&c.ID, &c.CitingPaperID, &c.ProcessingVersion, &c.CitationText, &c.ExtractedTitle,
			&c.ExtractedAuthors, &c.ExtractedYear, &c.ExtractedVenue, &c.ResolvedDOI, &c.ResolvedArxivID,
			&c.CitedPaperID, &c.IsInfluential, &c.Confidence, &stage); err != nil {
			return nil, err
		}
		c.ResolverStage = thothmodel.ResolverStage(stage)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *postgresStore) ListPapers(ctx context.Context, filter PaperFilter) ([]thothmodel.Paper, error) {
	query := `SELECT id FROM papers ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit*4+16) // overfetch; status/tag filtered in Go below
	}
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	var out []thothmodel.Paper
	for _, id := range ids {
		p, ok, err := s.GetPaper(ctx, id)
		if err != nil || !ok {
			continue
		}
		if filter.Tag != "" && !hasTag(p.Tags, filter.Tag) {
			continue
		}
		if filter.Status != "" && s.statusOf(ctx, p) != filter.Status {
			continue
		}
		out = append(out, p)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *postgresStore) statusOf(ctx context.Context, p thothmodel.Paper) Status {
	if p.ProcessingVersion == 0 {
		return StatusFailed
	}
	if partial, _ := p.Analysis.Extensions["partial"].(string); partial == "true" {
		return StatusPartial
	}
	return StatusActive
}

func (s *postgresStore) ListGraphCandidates(ctx context.Context) ([]GraphCandidateRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, authors, year, venue FROM papers WHERE active_version > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GraphCandidateRow
	for rows.Next() {
		var r GraphCandidateRow
		if err := rows.Scan(&r.PaperID, &r.Title, &r.Authors, &r.Year, &r.Venue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *postgresStore) DeletePaper(ctx context.Context, paperID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM papers WHERE id=$1`, paperID)
	return err
}

func (s *postgresStore) RecordFailure(ctx context.Context, rec FailureRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingestion_failures(paper_id, pdf_hash, error_kind, message, attempts, updated_at)
VALUES ($1,$2,$3,$4,$5,now())
ON CONFLICT (paper_id) DO UPDATE SET pdf_hash=EXCLUDED.pdf_hash, error_kind=EXCLUDED.error_kind,
  message=EXCLUDED.message, attempts=EXCLUDED.attempts, updated_at=now()`,
		rec.PaperID, rec.PDFHash, rec.ErrorKind, rec.Message, rec.Attempts)
	return err
}

func (s *postgresStore) ClearFailure(ctx context.Context, paperID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ingestion_failures WHERE paper_id=$1`, paperID)
	return err
}

func (s *postgresStore) ListFailures(ctx context.Context) ([]FailureRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT paper_id, pdf_hash, error_kind, message, attempts, updated_at FROM ingestion_failures ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		if err := rows.Scan(&f.PaperID, &f.PDFHash, &f.ErrorKind, &f.Message, &f.Attempts, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *postgresStore) InactiveVersionsOlderThan(ctx context.Context, cutoff time.Time) ([]VersionKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT paper_id, version FROM processing_versions WHERE is_active=false AND processed_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VersionKey
	for rows.Next() {
		var k VersionKey
		if err := rows.Scan(&k.PaperID, &k.Version); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *postgresStore) PruneVersion(ctx context.Context, paperID string, version int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM processing_versions WHERE paper_id=$1 AND version=$2`, paperID, version)
	return err
}

func (s *postgresStore) UpsertResearchQuery(ctx context.Context, q thothmodel.ResearchQuery) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO research_queries(name, description, keywords, include_criteria, exclude_criteria, schedule, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,now(),now())
ON CONFLICT (name) DO UPDATE SET description=EXCLUDED.description, keywords=EXCLUDED.keywords,
  include_criteria=EXCLUDED.include_criteria, exclude_criteria=EXCLUDED.exclude_criteria,
  schedule=EXCLUDED.schedule, updated_at=now()`,
		q.Name, q.Description, q.Keywords, q.Include, q.Exclude, q.Schedule)
	return err
}

func (s *postgresStore) ListResearchQueries(ctx context.Context) ([]thothmodel.ResearchQuery, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, description, keywords, include_criteria, exclude_criteria, schedule, created_at, updated_at FROM research_queries ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []thothmodel.ResearchQuery
	for rows.Next() {
		var q thothmodel.ResearchQuery
		if err := rows.Scan(&q.Name, &q.Description, &q.Keywords, &q.Include, &q.Exclude, &q.Schedule, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// analysisJSON is the wire shape of thothmodel.Analysis used for the
// processing_versions.analysis JSONB column.
type analysisJSON struct {
	Summary     string         `json:"summary"`
	KeyFindings []string       `json:"key_findings"`
	Abstract    string         `json:"abstract"`
	Methodology string         `json:"methodology"`
	Results     string         `json:"results"`
	Limitations []string       `json:"limitations"`
	RelatedWork string         `json:"related_work"`
	Tags        []string       `json:"tags"`
	Extensions  map[string]any `json:"extensions"`
}

func (a analysisJSON) toModel() thothmodel.Analysis {
	return thothmodel.Analysis{
		Summary:     a.Summary,
		KeyFindings: a.KeyFindings,
		Abstract:    a.Abstract,
		Methodology: a.Methodology,
		Results:     a.Results,
		Limitations: a.Limitations,
		RelatedWork: a.RelatedWork,
		Tags:        a.Tags,
		Extensions:  a.Extensions,
	}
}

func fromModel(a thothmodel.Analysis) analysisJSON {
	return analysisJSON{
		Summary:     a.Summary,
		KeyFindings: a.KeyFindings,
		Abstract:    a.Abstract,
		Methodology: a.Methodology,
		Results:     a.Results,
		Limitations: a.Limitations,
		RelatedWork: a.RelatedWork,
		Tags:        a.Tags,
		Extensions:  a.Extensions,
	}
}

// postgresTx implements Tx over one pgx.Tx: the paper, version, and
// citation writes happen inside tx, Activate runs in the same tx, and
// Commit is the single atomic point readers observe.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) UpsertPaper(ctx context.Context, p thothmodel.Paper) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO papers(id, title, authors, year, venue, doi, arxiv_id, abstract, tags, content_hash, pdf_path,
                    markdown_path_with_images, markdown_path_no_images, embeddings_generated,
                    llm_model_used, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now(),now())
ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, authors=EXCLUDED.authors, year=EXCLUDED.year,
  venue=EXCLUDED.venue, doi=EXCLUDED.doi, arxiv_id=EXCLUDED.arxiv_id, abstract=EXCLUDED.abstract,
  tags=EXCLUDED.tags, content_hash=EXCLUDED.content_hash, pdf_path=EXCLUDED.pdf_path,
  markdown_path_with_images=EXCLUDED.markdown_path_with_images,
  markdown_path_no_images=EXCLUDED.markdown_path_no_images, embeddings_generated=EXCLUDED.embeddings_generated,
  llm_model_used=EXCLUDED.llm_model_used, updated_at=now()`,
		p.ID, p.Title, p.Authors, p.Year, p.Venue, p.DOI, p.ArxivID, p.Abstract, p.Tags, p.ContentHash, p.PDFPath,
		p.MarkdownPathWithImages, p.MarkdownPathNoImages, p.EmbeddingsGenerated, p.LLMModelUsed)
	return err
}

func (t *postgresTx) InsertVersion(ctx context.Context, v thothmodel.ProcessingVersion) error {
	cfgRaw, _ := json.Marshal(v.ProcessingConfig)
	analysisRaw, _ := json.Marshal(fromModel(v.Analysis))
	_, err := t.tx.Exec(ctx, `
INSERT INTO processing_versions(paper_id, version, llm_model, processing_config, markdown_content, analysis, is_active, processed_at)
VALUES ($1,$2,$3,$4,$5,$6,false,now())
ON CONFLICT (paper_id, version) DO UPDATE SET llm_model=EXCLUDED.llm_model,
  processing_config=EXCLUDED.processing_config, markdown_content=EXCLUDED.markdown_content,
  analysis=EXCLUDED.analysis, processed_at=now()`,
		v.PaperID, v.Version, v.LLMModel, cfgRaw, v.MarkdownContent, analysisRaw)
	return err
}

func (t *postgresTx) InsertCitations(ctx context.Context, paperID string, version int, citations []thothmodel.Citation) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM citations WHERE citing_paper_id=$1 AND processing_version=$2`, paperID, version); err != nil {
		return err
	}
	for _, c := range citations {
		if c.ID == "" {
			c.ID = fmt.Sprintf("%s:%d:%s", paperID, version, c.CitationText)
		}
		if _, err := t.tx.Exec(ctx, `
INSERT INTO citations(id, citing_paper_id, processing_version, citation_text, extracted_title, extracted_authors,
                       extracted_year, extracted_venue, resolved_doi, resolved_arxiv_id, cited_paper_id,
                       is_influential, confidence, resolver_stage)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET extracted_title=EXCLUDED.extracted_title, confidence=EXCLUDED.confidence,
  resolver_stage=EXCLUDED.resolver_stage, cited_paper_id=EXCLUDED.cited_paper_id`,
			c.ID, paperID, version, c.CitationText, c.ExtractedTitle, c.ExtractedAuthors, c.ExtractedYear,
			c.ExtractedVenue, c.ResolvedDOI, c.ResolvedArxivID, c.CitedPaperID, c.IsInfluential, c.Confidence,
			string(c.ResolverStage)); err != nil {
			return err
		}
	}
	return nil
}

func (t *postgresTx) Activate(ctx context.Context, paperID string, version int) error {
	if _, err := t.tx.Exec(ctx, `UPDATE processing_versions SET is_active=false WHERE paper_id=$1 AND is_active=true`, paperID); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `UPDATE processing_versions SET is_active=true WHERE paper_id=$1 AND version=$2`, paperID, version); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `UPDATE papers SET active_version=$2, updated_at=now() WHERE id=$1`, paperID, version)
	return err
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == pgx.ErrTxClosed {
		return nil
	}
	return err
}
