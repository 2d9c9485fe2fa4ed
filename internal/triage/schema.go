package triage

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// eventSchema is the contract upstream normalizers must satisfy. Exactly one
// of raw_payload / raw_payload_ref is required alongside the identity triple.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["source_id", "event_id", "source_timestamp"],
  "properties": {
    "source_id": {"type": "string", "minLength": 1},
    "event_id": {"type": "string", "minLength": 1},
    "source_timestamp": {"type": "string", "minLength": 1},
    "raw_payload": {},
    "raw_payload_ref": {"type": "string", "minLength": 1},
    "raw_payload_hash": {"type": "string"}
  },
  "anyOf": [
    {"required": ["raw_payload"]},
    {"required": ["raw_payload_ref"]}
  ]
}`

var compiledEventSchema = mustCompileEventSchema()

func mustCompileEventSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("event.schema.json", strings.NewReader(eventSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile("event.schema.json")
}

// validEvent checks the raw map against the normalized-event schema.
func validEvent(m map[string]interface{}) bool {
	if m == nil {
		return false
	}
	return compiledEventSchema.Validate(map[string]interface{}(m)) == nil
}
