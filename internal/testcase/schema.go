package testcase

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SuiteSchema produces a JSON Schema Draft 2020-12 document for suite files,
// reflected from the Go types. Editors and the validate command consume it;
// the schema phase of Validate checks instances against it.
func SuiteSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Suite{})
	s.ID = "https://github.com/michaelbrown/proctor/schemas/suite-v0.json"
	s.Title = "Proctor Suite v0"
	s.Description = "Schema for proctor exercise suite files"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
