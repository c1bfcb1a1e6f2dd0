package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// validateStructured decodes raw into a generic JSON value and
// validates it against schema, returning a descriptive error on the
// first violation. This is the one call site in the tree that
// exercises jsonschema-go directly; its former home was the deleted
// MCP tool-schema layer, so CallStructured is now what keeps the
// dependency genuinely exercised.
func validateStructured(schema *jsonschema.Schema, raw []byte) error {
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
