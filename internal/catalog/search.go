package catalog

import (
	"sort"
	"strings"
)

// SearchResult pairs a match with both the caller's locale name and the
// canonical name, so identity stays stable across locales.
type SearchResult struct {
	ID           string
	LocaleName   string
	CanonicalName string
	Score        int
}

// Search performs a locale-aware fuzzy lookup over item names. No fuzzy-
// match library is present anywhere in the example pack, so this is a
// hand-rolled bounded-edit-distance scorer rather than an ecosystem import.
func (c *Catalog) Search(query, locale string, limit int) []SearchResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var results []SearchResult
	for id, item := range c.snapshot.Items {
		name, ok := item.Names[locale]
		if !ok {
			name = item.Canonical
		}
		score := fuzzyScore(q, strings.ToLower(name))
		if score < 0 {
			continue
		}
		results = append(results, SearchResult{
			ID:            id,
			LocaleName:    name,
			CanonicalName: item.Canonical,
			Score:         score,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// fuzzyScore returns a higher-is-better match score for query against
// candidate, or -1 if they are unrelated. Exact substring matches score
// highest; otherwise a bounded Levenshtein distance against the closest
// substring window contributes a smaller positive score.
func fuzzyScore(query, candidate string) int {
	if candidate == query {
		return 1000
	}
	if idx := strings.Index(candidate, query); idx >= 0 {
		// Prefix matches outrank mid-string matches.
		return 500 - idx
	}

	best := -1
	windowLen := len(query) + 2
	for i := 0; i+windowLen <= len(candidate)+1 && i < len(candidate); i++ {
		end := i + windowLen
		if end > len(candidate) {
			end = len(candidate)
		}
		d := levenshtein(query, candidate[i:end])
		if d > len(query)/2 {
			continue
		}
		score := 100 - d*10
		if score > best {
			best = score
		}
	}
	if best < 0 {
		return -1
	}
	return best
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
