package normalize

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Structural gate applied before field mapping. The schemas are deliberately
// loose about which fields are present (providers omit freely) but strict
// about the type of anything that is.
const sessionSchemaJSON = `{
  "type": "object",
  "required": ["start_time"],
  "properties": {
    "id": {"type": ["string", "number"]},
    "list-item-id": {"type": ["string", "number"]},
    "transaction-id": {"type": ["string", "number"]},
    "url": {"type": "string"},
    "start_time": {"type": "string"},
    "end_time": {"type": "string"},
    "sport": {"type": "string"},
    "distance": {"type": "number"},
    "duration": {"type": "string"},
    "calories": {"type": "number"},
    "device": {"type": "string"},
    "heart_rate": {"type": "object"},
    "heart_rate_variability": {"type": "object"},
    "training_load": {"type": "number"},
    "training_load_pro": {"type": "object"}
  }
}`

const metricSchemaJSON = `{
  "type": "object",
  "required": ["created"],
  "properties": {
    "created": {"type": "string"},
    "weight": {"type": "number"},
    "resting-heart-rate": {"type": "number"},
    "vo2-max": {"type": "number"},
    "sleep-hours": {"type": "number"}
  }
}`

var (
	sessionSchema = mustCompile("session.schema.json", sessionSchemaJSON)
	metricSchema  = mustCompile("metric.schema.json", metricSchemaJSON)
)

func mustCompile(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("unmarshal %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add resource %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile %s: %v", name, err))
	}
	return sch
}

func validateShape(sch *jsonschema.Schema, raw map[string]any) error {
	if err := sch.Validate(normalizeNumbers(raw)); err != nil {
		return &Error{Field: "payload", Reason: err.Error()}
	}
	return nil
}

// normalizeNumbers rewrites integer values to float64 so hand-built maps
// validate the same way as JSON-decoded ones.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeNumbers(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeNumbers(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
