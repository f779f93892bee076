package constants

import (
	"strings"
)

type StageID string

const (
	StageRegister  StageID = "register"
	StageMetadata  StageID = "metadata"
	StageTaxonomy  StageID = "taxonomy"
	StageNarrative StageID = "narrative"
	StageSEO       StageID = "seo"
)

var allStages = []StageID{
	StageRegister,
	StageMetadata,
	StageTaxonomy,
	StageNarrative,
	StageSEO,
}

func AsStringSlice() []string {
	result := make([]string, len(allStages))
	for i, s := range allStages {
		result[i] = string(s)
	}
	return result
}

// Canonicalize maps user input (including legacy names) to a stage id.
func Canonicalize(input string) (StageID, bool) {
	if input == "" {
		return "", false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map
	synonyms := map[string]StageID{
		"upload":         StageRegister,
		"vector":         StageRegister,
		"specs":          StageMetadata,
		"specifications": StageMetadata,
		"classify":       StageTaxonomy,
		"classification": StageTaxonomy,
		"description":    StageNarrative,
		"descriptions":   StageNarrative,
		"keywords":       StageSEO,
		"seo_terms":      StageSEO,
	}

	if s, ok := synonyms[normalized]; ok {
		return s, true
	}

	for _, s := range allStages {
		if normalized == string(s) {
			return s, true
		}
	}

	return "", false
}
