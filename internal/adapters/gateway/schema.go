package gateway

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"syncbridge/internal/core/domain"
)

const schemaBaseURL = "https://syncbridge.local/schemas/"

//go:embed schemas/*.json
var schemaFS embed.FS

// schemaValidator checks a webhook body against the platform's envelope schema
type schemaValidator struct {
	schema *jsonschema.Schema
}

func loadSchema(name string) (*schemaValidator, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	url := schemaBaseURL + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &schemaValidator{schema: schema}, nil
}

// mustLoadSchema panics on a broken embedded schema; it only fails on a build defect
func mustLoadSchema(name string) *schemaValidator {
	v, err := loadSchema(name)
	if err != nil {
		panic(err)
	}
	return v
}

// validate returns domain.ErrMalformedPayload when body is not JSON or breaks the schema
func (v *schemaValidator) validate(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid json: %v: %w", err, domain.ErrMalformedPayload)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrMalformedPayload)
	}
	return nil
}
