package web

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// funnelDefinitionSchema is the structural gate for imported funnel
// definitions. Graph invariants (edge integrity, per-type configuration)
// are checked by the model after the shape passes.
const funnelDefinitionSchema = `{
	"type": "object",
	"required": ["name", "slug", "start_step_id", "steps"],
	"properties": {
		"name": {"type": "string", "minLength": 3},
		"slug": {"type": "string", "pattern": "^[a-z0-9-]+$"},
		"description": {"type": "string"},
		"start_step_id": {"type": "string", "minLength": 1},
		"allow_reentry": {"type": "boolean"},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"enum": ["start", "delay", "condition", "action", "goal", "end"]},
					"delay_value": {"type": "integer", "minimum": 1},
					"delay_unit": {"enum": ["minutes", "hours", "days"]},
					"condition": {"type": "object"},
					"action_kind": {"enum": ["add_tag", "remove_tag", "send_message", "webhook"]},
					"action_config": {"type": "object"},
					"failure_step_id": {"type": "string"},
					"goal_name": {"type": "string"},
					"goal_kind": {"type": "string"},
					"goal_value": {"type": "number"},
					"next_step_id": {"type": "string"},
					"yes_step_id": {"type": "string"},
					"no_step_id": {"type": "string"}
				}
			}
		}
	}
}`

// validateFunnelDefinition validates a raw definition body against the
// funnel schema.
func validateFunnelDefinition(body []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(funnelDefinitionSchema)
	dataLoader := gojsonschema.NewBytesLoader(body)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate funnel definition: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid funnel definition: %s", strings.Join(details, "; "))
	}

	return nil
}
