package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuzzyScoreExactMatchOutranksSubstring(t *testing.T) {
	assert.Greater(t, fuzzyScore("reaver", "reaver"), fuzzyScore("reaver", "reaver vandal"))
}

func TestFuzzyScorePrefixOutranksMidString(t *testing.T) {
	prefix := fuzzyScore("prime", "prime vandal")
	midString := fuzzyScore("prime", "classic prime")
	assert.Greater(t, prefix, midString)
}

func TestFuzzyScoreTypoStillMatchesPositively(t *testing.T) {
	score := fuzzyScore("vandl", "vandal")
	assert.GreaterOrEqual(t, score, 0)
}

func TestFuzzyScoreUnrelatedStringsReportNoMatch(t *testing.T) {
	assert.Equal(t, -1, fuzzyScore("vandal", "xyz completely unrelated name of considerable length"))
}

func TestLevenshteinKnownDistances(t *testing.T) {
	assert.Equal(t, 0, levenshtein("phantom", "phantom"))
	assert.Equal(t, 1, levenshtein("phantom", "phanton"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestSearchRanksExactMatchFirst(t *testing.T) {
	c := &Catalog{snapshot: Snapshot{
		Items: map[string]Item{
			"1": {ID: "1", Canonical: "Reaver Vandal", Names: map[string]string{"en-US": "Reaver Vandal"}},
			"2": {ID: "2", Canonical: "Vandal", Names: map[string]string{"en-US": "Vandal"}},
		},
	}}

	results := c.Search("vandal", "en-US", 10)
	if assert.NotEmpty(t, results) {
		assert.Equal(t, "2", results[0].ID, "exact name match should outrank a substring match")
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	c := &Catalog{snapshot: Snapshot{
		Items: map[string]Item{
			"1": {ID: "1", Canonical: "Vandal Alpha"},
			"2": {ID: "2", Canonical: "Vandal Beta"},
			"3": {ID: "3", Canonical: "Vandal Gamma"},
		},
	}}

	results := c.Search("vandal", "en-US", 2)
	assert.Len(t, results, 2)
}
