package planner

import (
	"github.com/xeipuuv/gojsonschema"
)

// planSchema validates the structural shape of planner agent output before
// any semantic checks run.
const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "description", "capability"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "description": {"type": "string", "minLength": 1},
          "capability": {"type": "string", "minLength": 1},
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "input_template": {"type": "string"},
          "complexity": {"enum": ["low", "medium", "high"]},
          "timeout_s": {"type": "number", "minimum": 0}
        }
      }
    },
    "coordination": {"enum": ["sequential", "parallel", "hybrid"]},
    "critical_path": {"type": "array", "items": {"type": "string"}},
    "estimates": {
      "type": "object",
      "properties": {
        "time_s": {"type": "number", "minimum": 0},
        "cost_units": {"type": "number", "minimum": 0}
      }
    },
    "risks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description", "severity"],
        "properties": {
          "description": {"type": "string"},
          "severity": {"enum": ["low", "medium", "high"]},
          "mitigation": {"type": "string"}
        }
      }
    },
    "quality_score": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var compiledPlanSchema = mustCompileSchema(planSchema)

func mustCompileSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic("planner: plan schema does not compile: " + err.Error())
	}
	return schema
}

// validateSchema runs the JSON Schema check and returns human-readable
// reasons on failure.
func validateSchema(raw []byte) []string {
	result, err := compiledPlanSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return []string{"not valid JSON: " + err.Error()}
	}
	if result.Valid() {
		return nil
	}
	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.Field()+": "+desc.Description())
	}
	return reasons
}
