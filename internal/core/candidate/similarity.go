package candidate

import (
	"github.com/agnivade/levenshtein"

	"github.com/phytokb/canopy/internal/vocab"
)

// Similarity scores two canonicalized strings in [0,1] as the better of
// normalized edit-distance similarity and token-set Jaccard overlap. Edit
// distance catches typos ("quercitin"), token overlap catches reordered or
// partially matching multi-word labels.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	edit := editSimilarity(a, b)
	jac := jaccard(vocab.Tokens(a), vocab.Tokens(b))
	if jac > edit {
		return jac
	}
	return edit
}

func editSimilarity(a, b string) float64 {
	dist := levenshtein.ComputeDistance(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(dist)/float64(longest)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
