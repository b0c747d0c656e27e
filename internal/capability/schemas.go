package capability

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Output schemas per role. Anything the service returns must conform or the
// caller treats the call as failed.
var outputSchemas = map[Role]string{
	RoleExtractor: `{
		"type": "object",
		"required": ["doc_id", "candidates"],
		"properties": {
			"doc_id": {"type": "string"},
			"candidates": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["title", "claim_summary"],
					"properties": {
						"candidate_id": {"type": "string"},
						"title": {"type": "string"},
						"claim_summary": {"type": "string"},
						"why_it_matters": {"type": "string"},
						"evidence_snippet": {"type": "string"},
						"proposed_steep": {"type": "string"},
						"proposed_dimension": {"type": "string"},
						"proposed_tags": {},
						"type_suggested": {"type": "string"}
					}
				}
			}
		}
	}`,
	RoleComparator: `{
		"type": "object",
		"required": ["candidate_id", "max_similarity", "duplicate_flag"],
		"properties": {
			"candidate_id": {"type": "string"},
			"max_similarity": {"type": "number", "minimum": 0, "maximum": 1},
			"nearest_ids": {"type": "array", "items": {"type": "string"}},
			"duplicate_flag": {"type": "boolean"},
			"comparison_rationale": {"type": "string"}
		}
	}`,
	RoleScorer: `{
		"type": "object",
		"required": ["candidate_id", "novelty_score", "credibility_score", "relevance_score", "priority_index", "importance_distance", "decision"],
		"properties": {
			"candidate_id": {"type": "string"},
			"novelty_score": {"type": "number"},
			"credibility_score": {"type": "number"},
			"relevance_score": {"type": "number"},
			"priority_index": {"type": "number"},
			"importance_distance": {"type": "integer", "minimum": 1, "maximum": 10},
			"decision": {"type": "string", "enum": ["accept", "review", "reject"]},
			"promotion_suggestion": {"type": "string"},
			"scoring_rationale": {"type": "string"}
		}
	}`,
	RoleCurator: `{
		"type": "object",
		"required": ["candidate_id", "record"],
		"properties": {
			"candidate_id": {"type": "string"},
			"record": {
				"type": "object",
				"required": ["title"],
				"properties": {
					"title": {"type": "string"},
					"steep": {"type": "string"},
					"dimension": {"type": "string"},
					"tags": {},
					"text": {"type": "string"}
				}
			}
		}
	}`,
	RoleExporter: `{
		"type": "object",
		"required": ["run_id", "counts"],
		"properties": {
			"run_id": {"type": "string"},
			"outputs": {"type": "object"},
			"counts": {
				"type": "object",
				"required": ["total", "accept", "review", "reject"],
				"properties": {
					"total": {"type": "integer"},
					"accept": {"type": "integer"},
					"review": {"type": "integer"},
					"reject": {"type": "integer"}
				}
			},
			"schema_validation": {"type": "object"}
		}
	}`,
	RoleSynthesizer: `{
		"type": "object",
		"required": ["forces"],
		"properties": {
			"forces": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["title", "type", "source_signal_ids"],
					"properties": {
						"force_id": {"type": "string"},
						"title": {"type": "string"},
						"type": {"type": "string", "enum": ["MT", "T", "WS", "WC"]},
						"steep": {"type": "string"},
						"dimension": {"type": "string"},
						"text": {"type": "string"},
						"tags": {},
						"source_signal_ids": {"type": "array", "items": {"type": "string"}},
						"synthesis_rationale": {"type": "string"}
					}
				}
			},
			"cluster_summary": {"type": "object"}
		}
	}`,
}

var (
	schemaOnce       sync.Once
	compiled         map[Role]*gojsonschema.Schema
	schemaCompileErr error
)

// compileSchemas compiles every role schema once.
func compileSchemas() error {
	schemaOnce.Do(func() {
		compiled = make(map[Role]*gojsonschema.Schema, len(outputSchemas))

		for role, raw := range outputSchemas {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
			if err != nil {
				schemaCompileErr = fmt.Errorf("failed to compile %s schema: %w", role, err)

				return
			}

			compiled[role] = schema
		}
	})

	return schemaCompileErr
}

// OutputSchema returns the JSON schema source for a role.
func OutputSchema(role Role) (string, bool) {
	schema, ok := outputSchemas[role]

	return schema, ok
}

// ValidateOutput validates a raw response against the role's output schema.
func ValidateOutput(role Role, raw []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}

	schema, ok := compiled[role]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, role, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, role, result.Errors())
	}

	return nil
}
