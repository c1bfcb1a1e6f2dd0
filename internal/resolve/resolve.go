// Package resolve turns a raw extracted citation into an enriched,
// optionally-resolved Citation by running an ordered chain of lookups
// (DOI, OpenAlex, arXiv, fuzzy match against the local graph) with
// early exit on acceptance.
package resolve

import (
	"context"
	"regexp"
	"strings"

	"thoth/internal/gateway"
	"thoth/internal/thothmodel"
)

// doiPattern matches a bare DOI embedded in free-text citation strings.
var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s"<>]+`)

// arxivPattern matches an arXiv identifier (new-style, e.g. 2301.12345).
var arxivPattern = regexp.MustCompile(`\b(\d{4}\.\d{4,5})(v\d+)?\b`)

// GraphCandidate is the subset of a known Paper that the fuzzy-match
// stage scores a raw extraction against.
type GraphCandidate struct {
	PaperID string
	Title   string
	Authors []string
	Year    int
	Venue   string
}

// Resolver runs the resolution chain for one citing paper's raw
// extractions.
type Resolver struct {
	gw *gateway.Gateway

	// FuzzyThreshold is the minimum weighted similarity score
	// (default 0.82 per the resolution chain's acceptance rule).
	FuzzyThreshold float64
}

// New builds a Resolver backed by gw for the DOI/OpenAlex/arXiv stages.
func New(gw *gateway.Gateway) *Resolver {
	return &Resolver{gw: gw, FuzzyThreshold: 0.82}
}

// RawCitation is one citation string extracted from a paper's body,
// ahead of resolution.
type RawCitation struct {
	CitationText     string
	ExtractedTitle   string
	ExtractedAuthors []string
	ExtractedYear    int
	ExtractedVenue   string
	IsInfluential    bool
}

// Resolve runs the ordered resolution chain for one raw citation. It
// never returns an error: every stage failure degrades to a "stage
// miss" and resolution falls through to the next stage, per the
// resolver's never-abort contract.
func (r *Resolver) Resolve(ctx context.Context, raw RawCitation, citingPaperID string, processingVersion int, graph []GraphCandidate) thothmodel.Citation {
	base := thothmodel.Citation{
		CitingPaperID:     citingPaperID,
		CitationText:      raw.CitationText,
		ExtractedTitle:    raw.ExtractedTitle,
		ExtractedAuthors:  raw.ExtractedAuthors,
		ExtractedYear:     raw.ExtractedYear,
		ExtractedVenue:    raw.ExtractedVenue,
		IsInfluential:     raw.IsInfluential,
		ProcessingVersion: processingVersion,
	}

	if c, ok := r.tryDOI(ctx, base, raw); ok {
		return c
	}
	if c, ok := r.tryOpenAlex(ctx, base, raw); ok {
		return c
	}
	if c, ok := r.tryArxiv(ctx, base, raw); ok {
		return c
	}
	if c, ok := r.tryFuzzy(base, raw, graph); ok {
		return c
	}

	base.ResolverStage = thothmodel.ResolverUnresolved
	return thothmodel.NewCitation(base)
}

func (r *Resolver) tryDOI(ctx context.Context, base thothmodel.Citation, raw RawCitation) (thothmodel.Citation, bool) {
	if r.gw == nil {
		return thothmodel.Citation{}, false
	}
	doi := doiPattern.FindString(raw.CitationText)
	if doi == "" {
		return thothmodel.Citation{}, false
	}
	work, err := r.gw.LookupDOI(ctx, doi)
	if err != nil {
		return thothmodel.Citation{}, false
	}
	if len(work.Message.Title) == 0 {
		return thothmodel.Citation{}, false
	}
	if !titleAndYearMatch(work.Message.Title[0], raw.ExtractedTitle, 0, raw.ExtractedYear) {
		return thothmodel.Citation{}, false
	}
	base.ResolvedDOI = work.Message.DOI
	base.ResolverStage = thothmodel.ResolverDOI
	return thothmodel.NewCitation(base), true
}

func (r *Resolver) tryOpenAlex(ctx context.Context, base thothmodel.Citation, raw RawCitation) (thothmodel.Citation, bool) {
	if r.gw == nil || raw.ExtractedTitle == "" {
		return thothmodel.Citation{}, false
	}
	candidates, err := r.gw.SearchOpenAlex(ctx, raw.ExtractedTitle, 5)
	if err != nil || len(candidates) == 0 {
		return thothmodel.Citation{}, false
	}

	var best gateway.OpenAlexWork
	bestScore, tied := -1.0, false
	var tieWithDOI *gateway.OpenAlexWork
	for _, c := range candidates {
		year := yearFromString(c.Publication)
		score := titleYearScore(c.Title, raw.ExtractedTitle, year, raw.ExtractedYear)
		switch {
		case score > bestScore:
			best, bestScore, tied, tieWithDOI = c, score, false, nil
			if c.DOI != "" {
				cp := c
				tieWithDOI = &cp
			}
		case score == bestScore:
			tied = true
			if tieWithDOI == nil && c.DOI != "" {
				cp := c
				tieWithDOI = &cp
			}
		}
	}
	if tied {
		// ties go to the entry with a DOI; still tied without one,
		// reject the stage
		if tieWithDOI == nil {
			return thothmodel.Citation{}, false
		}
		best = *tieWithDOI
	}
	if !normalizeTitle(best.Title, raw.ExtractedTitle) {
		return thothmodel.Citation{}, false
	}
	base.ResolvedDOI = best.DOI
	base.CitedPaperID = best.ID
	base.ResolverStage = thothmodel.ResolverOpenAlex
	return thothmodel.NewCitation(base), true
}

func (r *Resolver) tryArxiv(ctx context.Context, base thothmodel.Citation, raw RawCitation) (thothmodel.Citation, bool) {
	if r.gw == nil {
		return thothmodel.Citation{}, false
	}
	id := arxivPattern.FindString(raw.CitationText)
	if id == "" {
		return thothmodel.Citation{}, false
	}
	entry, err := r.gw.LookupArxiv(ctx, id)
	if err != nil {
		return thothmodel.Citation{}, false
	}
	base.ResolvedArxivID = entry.ArxivID
	base.ResolverStage = thothmodel.ResolverArxiv
	return thothmodel.NewCitation(base), true
}

func (r *Resolver) tryFuzzy(base thothmodel.Citation, raw RawCitation, graph []GraphCandidate) (thothmodel.Citation, bool) {
	if raw.ExtractedTitle == "" || len(graph) == 0 {
		return thothmodel.Citation{}, false
	}

	best := -1.0
	var bestCandidate GraphCandidate
	for _, cand := range graph {
		score := FuzzyScore(cand.Title, cand.Authors, cand.Year, cand.Venue, raw.ExtractedTitle, raw.ExtractedAuthors, raw.ExtractedYear, raw.ExtractedVenue)
		if score > best {
			best, bestCandidate = score, cand
		}
	}
	if best < r.FuzzyThreshold {
		return thothmodel.Citation{}, false
	}
	base.CitedPaperID = bestCandidate.PaperID
	base.Confidence = best
	base.ResolverStage = thothmodel.ResolverFuzzy
	return thothmodel.NewCitation(base), true
}

// FuzzyScore implements the resolution chain's weighted fuzzy-match
// formula: normalized-title token-set similarity (0.5), author-surname
// Jaccard (0.25), year agreement (0.15), normalized venue equality
// (0.10).
func FuzzyScore(candTitle string, candAuthors []string, candYear int, candVenue string, title string, authors []string, year int, venue string) float64 {
	titleScore := tokenSetSimilarity(candTitle, title)
	authorScore := surnameJaccard(candAuthors, authors)
	yearScore := 0.0
	switch {
	case candYear != 0 && candYear == year:
		yearScore = 1.0
	case candYear != 0 && year != 0 && abs(candYear-year) <= 1:
		yearScore = 0.5
	}
	venueScore := 0.0
	if candVenue != "" && normalizeSpace(candVenue) == normalizeSpace(venue) {
		venueScore = 1.0
	}
	return thothmodel.Clamp01(0.5*titleScore + 0.25*authorScore + 0.15*yearScore + 0.10*venueScore)
}

func titleYearScore(titleA string, titleB string, yearA, yearB int) float64 {
	score := tokenSetSimilarity(titleA, titleB)
	if yearA != 0 && yearA == yearB {
		score += 0.1
	}
	return score
}

func titleAndYearMatch(titleA, titleB string, yearA, yearB int) bool {
	if !normalizeTitle(titleA, titleB) {
		return false
	}
	if yearA != 0 && yearB != 0 && abs(yearA-yearB) > 1 {
		return false
	}
	return true
}

func normalizeTitle(a, b string) bool {
	return normalizeSpace(a) == normalizeSpace(b) || tokenSetSimilarity(a, b) >= 0.95
}

// tokenSetSimilarity computes a token-set ratio: the Jaccard overlap
// of each title's lower-cased, punctuation-stripped word set.
func tokenSetSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.Fields(normalizeSpace(s)) {
		if f != "" {
			out[f] = struct{}{}
		}
	}
	return out
}

// surnameJaccard scores overlap between two author lists by their
// normalized last names.
func surnameJaccard(a, b []string) float64 {
	sa, sb := surnameSet(a), surnameSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for s := range sa {
		if _, ok := sb[s]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func surnameSet(authors []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, a := range authors {
		parts := strings.Fields(a)
		if len(parts) == 0 {
			continue
		}
		out[strings.ToLower(parts[len(parts)-1])] = struct{}{}
	}
	return out
}

func normalizeSpace(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if isAlnum(r) {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z')
}

func yearFromString(s string) int {
	y := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		y = y*10 + int(r-'0')
	}
	return y
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
