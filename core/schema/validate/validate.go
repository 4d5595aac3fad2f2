package validate

import (
	_ "embed"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

//go:embed intent_request.schema.json
var intentRequestSchemaJSON []byte

//go:embed pack_manifest.schema.json
var packManifestSchemaJSON []byte

// ValidateIntentRequest checks a serialized intent request against the
// embedded gait.gate.intent_request schema.
func ValidateIntentRequest(data []byte) error {
	return validateAgainst(intentRequestSchemaJSON, data)
}

// ValidatePackManifest checks a serialized pack manifest against the embedded
// gait.pack.manifest schema.
func ValidatePackManifest(data []byte) error {
	return validateAgainst(packManifestSchemaJSON, data)
}

func validateAgainst(schemaJSON []byte, data []byte) error {
	schema, err := compileSchema(schemaJSON)
	if err != nil {
		return err
	}
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}

func compileSchema(schemaJSON []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
