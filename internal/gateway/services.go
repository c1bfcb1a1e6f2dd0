package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"time"

	"thoth/internal/thotherr"
)

// CrossrefWork is the subset of Crossref's work record the resolver needs to
// corroborate a citation's DOI.
type CrossrefWork struct {
	Message struct {
		DOI     string   `json:"DOI"`
		Title   []string `json:"title"`
		Authors []struct {
			Given  string `json:"given"`
			Family string `json:"family"`
		} `json:"author"`
		Published struct {
			DateParts [][]int `json:"date-parts"`
		} `json:"published"`
	} `json:"message"`
}

// LookupDOI resolves a DOI against Crossref.
func (g *Gateway) LookupDOI(ctx context.Context, doi string) (CrossrefWork, error) {
	raw, err := g.Call(ctx, "doi", Request{
		Path:      "/works/" + doi,
		Cacheable: true,
		TTL:       30 * 24 * time.Hour,
	})
	if err != nil {
		return CrossrefWork{}, err
	}
	var work CrossrefWork
	if err := json.Unmarshal(raw, &work); err != nil {
		return CrossrefWork{}, thotherr.New(thotherr.Fatal, "gateway.LookupDOI", err)
	}
	return work, nil
}

// OpenAlexWork is the subset of an OpenAlex work record used for
// citation corroboration and candidate discovery.
type OpenAlexWork struct {
	ID           string `json:"id"`
	DOI          string `json:"doi"`
	Title        string `json:"title"`
	Publication  string `json:"publication_year"`
	CitedByCount int    `json:"cited_by_count"`
}

// LookupOpenAlex fetches a work by its OpenAlex id (e.g. "W2741809807").
func (g *Gateway) LookupOpenAlex(ctx context.Context, id string) (OpenAlexWork, error) {
	raw, err := g.Call(ctx, "openalex", Request{
		Path:      "/works/" + id,
		Cacheable: true,
		TTL:       30 * 24 * time.Hour,
	})
	if err != nil {
		return OpenAlexWork{}, err
	}
	var work OpenAlexWork
	if err := json.Unmarshal(raw, &work); err != nil {
		return OpenAlexWork{}, thotherr.New(thotherr.Fatal, "gateway.LookupOpenAlex", err)
	}
	return work, nil
}

// SearchOpenAlex runs a title-search query, used when the resolver has no DOI to
// key off of and must fall back to fuzzy matching against candidates.
func (g *Gateway) SearchOpenAlex(ctx context.Context, title string, limit int) ([]OpenAlexWork, error) {
	if limit <= 0 {
		limit = 5
	}
	raw, err := g.Call(ctx, "openalex", Request{
		Path: "/works",
		Query: map[string]string{
			"search":   title,
			"per-page": fmt.Sprintf("%d", limit),
		},
		Cacheable: true,
		TTL:       24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []OpenAlexWork `json:"results"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, thotherr.New(thotherr.Fatal, "gateway.SearchOpenAlex", err)
	}
	return resp.Results, nil
}

// arxivFeed mirrors the Atom structure returned by export.arxiv.org's
// query API, the one candidate JSON-shaped service that actually
// speaks XML.
type arxivFeed struct {
	Entries []struct {
		ID      string `xml:"id"`
		Title   string `xml:"title"`
		Summary string `xml:"summary"`
	} `xml:"entry"`
}

// ArxivEntry is the normalized result of an arXiv lookup.
type ArxivEntry struct {
	ArxivID string
	Title   string
	Summary string
}

// LookupArxiv searches export.arxiv.org for the given arXiv id.
func (g *Gateway) LookupArxiv(ctx context.Context, arxivID string) (ArxivEntry, error) {
	raw, err := g.Call(ctx, "arxiv", Request{
		Path: "/api/query",
		Query: map[string]string{
			"id_list":     arxivID,
			"max_results": "1",
		},
		Cacheable: true,
		TTL:       30 * 24 * time.Hour,
	})
	if err != nil {
		return ArxivEntry{}, err
	}
	var feed arxivFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return ArxivEntry{}, thotherr.New(thotherr.Fatal, "gateway.LookupArxiv", err)
	}
	if len(feed.Entries) == 0 {
		return ArxivEntry{}, thotherr.New(thotherr.NotFound, "gateway.LookupArxiv", fmt.Errorf("no entry for %s", arxivID))
	}
	e := feed.Entries[0]
	return ArxivEntry{ArxivID: arxivID, Title: e.Title, Summary: e.Summary}, nil
}

// SemanticScholarWork is the subset of a Semantic Scholar paper record
// the resolver uses for corroboration when neither a DOI nor an arXiv id is
// available.
type SemanticScholarWork struct {
	PaperID string   `json:"paperId"`
	Title   string   `json:"title"`
	Authors []string `json:"-"`
}

// LookupSemanticScholar fetches a paper by its Semantic Scholar id.
func (g *Gateway) LookupSemanticScholar(ctx context.Context, id string) (SemanticScholarWork, error) {
	raw, err := g.Call(ctx, "semanticscholar", Request{
		Path: "/graph/v1/paper/" + id,
		Query: map[string]string{
			"fields": "title,authors",
		},
		Cacheable: true,
		TTL:       30 * 24 * time.Hour,
	})
	if err != nil {
		return SemanticScholarWork{}, err
	}
	var work SemanticScholarWork
	if err := json.Unmarshal(raw, &work); err != nil {
		return SemanticScholarWork{}, thotherr.New(thotherr.Fatal, "gateway.LookupSemanticScholar", err)
	}
	return work, nil
}

// OCRExtract submits raw PDF bytes to the configured OCR service and
// returns the extracted plain text, caching on the PDF's own content
// fingerprint so re-ingesting the same file never re-pays OCR cost.
func (g *Gateway) OCRExtract(ctx context.Context, pdfBytes []byte) (string, error) {
	raw, err := g.Call(ctx, "ocr", Request{
		Method: "POST",
		Path:   "/extract",
		Body: map[string]string{
			"pdf_base64": base64.StdEncoding.EncodeToString(pdfBytes),
		},
		Cacheable: true,
		TTL:       0, // OCR output for a given PDF never goes stale
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", thotherr.New(thotherr.Fatal, "gateway.OCRExtract", err)
	}
	return resp.Text, nil
}
