package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

// RequireKeys fails with a result-phase validation error naming the first
// key, in declared order, that obj lacks. Extra keys are allowed.
func RequireKeys(obj map[string]any, keys []string) error {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return common.MissingKeyError(k)
		}
	}
	return nil
}

// Schema is a compiled JSON Schema for a stage result.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// CompileSchema compiles a schema given as a generic map.
func CompileSchema(name string, schemaMap map[string]any) (*Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// Validate checks an extracted object against the schema.
func (s *Schema) Validate(obj map[string]any) error {
	if s == nil {
		return nil
	}
	if err := s.compiled.Validate(toPlain(obj)); err != nil {
		ae := common.ValidationErrorf("result does not match %s schema: %v", s.name, err)
		ae.Phase = common.PhaseResult
		return ae
	}
	return nil
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	s, err := CompileSchema("inline", schemaMap)
	if err != nil {
		return err
	}
	obj, ok := parseObject(string(data))
	if !ok {
		return common.ExtractionError("data is not a JSON object")
	}
	return s.Validate(obj)
}

// toPlain round-trips through encoding/json so the validator sees the same
// value types it would for freshly decoded input.
func toPlain(obj map[string]any) any {
	b, err := json.Marshal(obj)
	if err != nil {
		return obj
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return obj
	}
	return v
}
