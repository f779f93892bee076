package pipeline

import (
	"fmt"
	"time"

	"github.com/joseph-ayodele/doc-enricher/constants"
	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/extract"
)

// JobKind selects how a stage talks to the provider.
type JobKind string

const (
	JobFileUpload     JobKind = "file_upload"
	JobSingleShot     JobKind = "single_shot"
	JobConversational JobKind = "conversational"
)

// Stage is the immutable configuration of one pipeline step.
type Stage struct {
	ID           string
	Requires     []artifact.Kind
	Optional     []artifact.Kind
	Produces     artifact.Kind
	Merge        bool // merge the result into the existing object instead of replacing it
	JobKind      JobKind
	TemplateID   string
	ReusesAgent  bool
	RequiredKeys []string
	Schema       *extract.Schema

	// Zero values fall back to the executor's poll policy.
	PollInterval time.Duration
	MaxAttempts  int

	// Defaults are template bindings used when the request does not set them.
	Defaults map[string]string
}

// StageInfo is the serializable view of a stage.
type StageInfo struct {
	ID           string   `json:"id"`
	Requires     []string `json:"requires"`
	Optional     []string `json:"optional"`
	Produces     string   `json:"produces"`
	JobKind      JobKind  `json:"job_kind"`
	ReusesAgent  bool     `json:"reuses_agent"`
	RequiredKeys []string `json:"required_keys"`
}

func (s Stage) Info() StageInfo {
	return StageInfo{
		ID:           s.ID,
		Requires:     kindStrings(s.Requires),
		Optional:     kindStrings(s.Optional),
		Produces:     string(s.Produces),
		JobKind:      s.JobKind,
		ReusesAgent:  s.ReusesAgent,
		RequiredKeys: append([]string{}, s.RequiredKeys...),
	}
}

func kindStrings(kinds []artifact.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func (s Stage) validate() error {
	if s.ID == "" {
		return fmt.Errorf("stage id is required")
	}
	switch s.JobKind {
	case JobFileUpload, JobSingleShot, JobConversational:
	default:
		return fmt.Errorf("stage %s: unknown job kind %q", s.ID, s.JobKind)
	}
	if err := artifact.KeyOf(s.Produces).Validate(); err != nil {
		return fmt.Errorf("stage %s: produces: %w", s.ID, err)
	}
	for _, k := range append(append([]artifact.Kind{}, s.Requires...), s.Optional...) {
		if err := artifact.KeyOf(k).Validate(); err != nil {
			return fmt.Errorf("stage %s: input: %w", s.ID, err)
		}
	}
	if s.JobKind != JobFileUpload && s.TemplateID == "" {
		return fmt.Errorf("stage %s: template id is required for %s jobs", s.ID, s.JobKind)
	}
	if s.Merge && s.Produces != artifact.Metadata && s.Produces != artifact.SEOTerms {
		return fmt.Errorf("stage %s: only structured artifacts can be merged", s.ID)
	}
	return nil
}

// Definition is the ordered, static list of stages.
type Definition struct {
	stages []Stage
	byID   map[string]int
}

// NewDefinition validates the stages and indexes them by id.
func NewDefinition(stages ...Stage) (*Definition, error) {
	d := &Definition{byID: make(map[string]int, len(stages))}
	for _, s := range stages {
		if err := s.validate(); err != nil {
			return nil, common.NewAppError(common.KindConfig, "invalid stage definition", err)
		}
		if _, dup := d.byID[s.ID]; dup {
			return nil, common.NewAppError(common.KindConfig, fmt.Sprintf("duplicate stage %q", s.ID), nil)
		}
		d.byID[s.ID] = len(d.stages)
		d.stages = append(d.stages, s)
	}
	return d, nil
}

// DefaultDefinition is the built-in enrichment pipeline.
func DefaultDefinition() *Definition {
	d, err := NewDefinition(DefaultStages()...)
	if err != nil {
		panic(err)
	}
	return d
}

// Stages returns the stages in pipeline order.
func (d *Definition) Stages() []Stage {
	return append([]Stage(nil), d.stages...)
}

// Lookup finds a stage by id or by one of its accepted aliases.
func (d *Definition) Lookup(id string) (Stage, error) {
	if i, ok := d.byID[id]; ok {
		return d.stages[i], nil
	}
	if canon, ok := constants.Canonicalize(id); ok {
		if i, ok := d.byID[string(canon)]; ok {
			return d.stages[i], nil
		}
	}
	ae := common.ValidationErrorf("unknown stage %q", id)
	ae.Key = "stage"
	return Stage{}, ae
}

var (
	metadataSchema = mustSchema("metadata", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"product_name":   map[string]any{"type": "string"},
			"manufacturer":   map[string]any{"type": "string"},
			"model":          map[string]any{"type": []any{"string", "number"}},
			"specifications": map[string]any{"type": []any{"object", "array", "string"}},
		},
	})
	taxonomySchema = mustSchema("taxonomy", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"family":    map[string]any{"type": "string"},
			"subfamily": map[string]any{"type": "string"},
			"category":  map[string]any{"type": "string"},
		},
	})
	narrativeSchema = mustSchema("narrative", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"short_description": map[string]any{"type": "string"},
			"long_description":  map[string]any{"type": "string"},
		},
	})
	seoSchema = mustSchema("seo", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kw":                  stringArray,
			"kw_lt":               stringArray,
			"terminos_semanticos": stringArray,
		},
	})
	stringArray = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
)

func mustSchema(name string, m map[string]any) *extract.Schema {
	s, err := extract.CompileSchema(name, m)
	if err != nil {
		panic(err)
	}
	return s
}

// DefaultStages returns register, metadata, taxonomy, narrative and seo.
func DefaultStages() []Stage {
	lang := map[string]string{"language": "English"}
	return []Stage{
		{
			ID:           string(constants.StageRegister),
			Requires:     []artifact.Kind{artifact.RawText},
			Produces:     artifact.ProviderFileRef,
			JobKind:      JobFileUpload,
			RequiredKeys: []string{"file_id"},
		},
		{
			ID:           string(constants.StageMetadata),
			Requires:     []artifact.Kind{artifact.ProviderFileRef},
			Optional:     []artifact.Kind{artifact.RawText},
			Produces:     artifact.Metadata,
			Merge:        true,
			JobKind:      JobConversational,
			TemplateID:   string(constants.StageMetadata),
			ReusesAgent:  true,
			RequiredKeys: []string{"product_name", "manufacturer", "model", "specifications"},
			Schema:       metadataSchema,
			Defaults:     lang,
		},
		{
			ID:           string(constants.StageTaxonomy),
			Requires:     []artifact.Kind{artifact.ProviderFileRef, artifact.Metadata},
			Produces:     artifact.Metadata,
			Merge:        true,
			JobKind:      JobConversational,
			TemplateID:   string(constants.StageTaxonomy),
			RequiredKeys: []string{"family", "subfamily", "category"},
			Schema:       taxonomySchema,
			Defaults:     lang,
		},
		{
			ID:           string(constants.StageNarrative),
			Requires:     []artifact.Kind{artifact.Metadata},
			Produces:     artifact.Metadata,
			Merge:        true,
			JobKind:      JobSingleShot,
			TemplateID:   string(constants.StageNarrative),
			RequiredKeys: []string{"short_description", "long_description"},
			Schema:       narrativeSchema,
			Defaults:     lang,
		},
		{
			ID:           string(constants.StageSEO),
			Requires:     []artifact.Kind{artifact.ProviderFileRef},
			Optional:     []artifact.Kind{artifact.Metadata},
			Produces:     artifact.SEOTerms,
			JobKind:      JobConversational,
			TemplateID:   string(constants.StageSEO),
			ReusesAgent:  true,
			RequiredKeys: []string{"kw", "kw_lt", "terminos_semanticos"},
			Schema:       seoSchema,
			Defaults:     lang,
		},
	}
}
