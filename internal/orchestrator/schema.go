package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// validatePayload checks a generated step payload against the step's JSON
// schema. Content that is not valid JSON is an error (the payload cannot be
// trusted downstream); schema violations are returned as warnings so the run
// can proceed while flagging the deviation on the step row.
func validatePayload(def StepDefinition, content string) (json.RawMessage, []string, error) {
	if !json.Valid([]byte(content)) {
		return nil, nil, fmt.Errorf("step %s produced invalid JSON", def.Name)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(def.Schema),
		gojsonschema.NewStringLoader(content),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("schema validation for step %s: %w", def.Name, err)
	}

	var warnings []string
	if !result.Valid() {
		for _, desc := range result.Errors() {
			warnings = append(warnings, fmt.Sprintf("schema: %s", desc.String()))
		}
	}

	return json.RawMessage(content), warnings, nil
}
