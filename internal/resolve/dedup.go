package resolve

import (
	"strconv"

	"thoth/internal/thothmodel"
)

// Dedup collapses citations within one citing paper whose resolved
// identifier is equal, or (if unresolved) whose normalized title and
// year coincide, keeping the highest-confidence record per group and
// aggregating the distinct citation contexts into its CitationText.
func Dedup(citations []thothmodel.Citation) []thothmodel.Citation {
	groups := map[string]int{} // dedup key -> index into kept
	var kept []thothmodel.Citation

	for _, c := range citations {
		k := dedupKey(c)
		idx, ok := groups[k]
		if !ok {
			groups[k] = len(kept)
			kept = append(kept, c)
			continue
		}
		loser := kept[idx]
		if c.Confidence > loser.Confidence {
			kept[idx], loser = c, kept[idx]
		}
		if loser.CitationText != "" && loser.CitationText != kept[idx].CitationText {
			kept[idx].CitationText += "\n" + loser.CitationText
		}
	}
	return kept
}

func dedupKey(c thothmodel.Citation) string {
	switch {
	case c.ResolvedDOI != "":
		return "doi:" + normalizeSpace(c.ResolvedDOI)
	case c.ResolvedArxivID != "":
		return "arxiv:" + normalizeSpace(c.ResolvedArxivID)
	case c.CitedPaperID != "":
		return "paper:" + c.CitedPaperID
	default:
		return "title:" + normalizeSpace(c.ExtractedTitle) + "|" + strconv.Itoa(c.ExtractedYear)
	}
}
