// Package schema checks workflow definition documents against the embedded JSON schema.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/services"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed workflow.schema.json
var workflowSchema []byte

var loaded = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(workflowSchema))
	if err != nil {
		panic(fmt.Errorf("schema: invalid embedded workflow schema: %w", err))
	}

	return s
}()

// Document returns the raw workflow schema.
func Document() []byte {
	return workflowSchema
}

// Validate checks a JSON document. Violations are returned as a VALIDATION_FAILED
// service error listing every offending field.
func Validate(document []byte) error {
	result, err := loaded.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return services.NewValidationError("ValidateSchema", []services.FieldError{
			{Field: "document", Message: err.Error()},
		})
	}

	if result.Valid() {
		return nil
	}

	fields := make([]services.FieldError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		fields = append(fields, services.FieldError{Field: desc.Field(), Message: desc.Description()})
	}

	return services.NewValidationError("ValidateSchema", fields)
}

// Decode validates a JSON document and decodes it into a definition.
func Decode(document []byte) (*models.WorkflowDefinition, error) {
	err := Validate(document)
	if err != nil {
		return nil, err
	}

	var def models.WorkflowDefinition

	err = json.Unmarshal(document, &def)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}

	return &def, nil
}
