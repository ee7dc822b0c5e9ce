// Package nbformat validates Jupyter notebook documents against a
// structural schema for notebook format 4.
package nbformat

import (
	_ "embed"
	"encoding/json"
	"sync"

	"emperror.dev/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed nbformat.v4.schema.json
var schemaData string

const schemaURL = "https://jupyfs.io/schema/nbformat.v4.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString(schemaURL, schemaData)
	})
	if schemaErr != nil {
		return nil, errors.Wrap(schemaErr, "cannot compile notebook schema")
	}
	return schema, nil
}

// Validate checks raw notebook bytes.
func Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "notebook is not valid JSON")
	}
	return ValidateObject(doc)
}

// ValidateObject checks an already-decoded notebook document.
func ValidateObject(doc any) error {
	s, err := compiled()
	if err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return errors.Wrap(err, "invalid notebook")
	}
	return nil
}

// Empty returns a minimal valid notebook document.
func Empty() map[string]any {
	return map[string]any{
		"cells":          []any{},
		"metadata":       map[string]any{},
		"nbformat":       4,
		"nbformat_minor": 5,
	}
}
