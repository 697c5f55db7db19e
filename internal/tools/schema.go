// ABOUTME: JSON Schema compilation and tool input validation.
// ABOUTME: Schema failures are reported as *SchemaError so callers can hand them to the model.

package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrSchema matches every *SchemaError via errors.Is.
var ErrSchema = errors.New("input does not match tool schema")

const emptyObjectSchema = `{"type":"object"}`

// SchemaError describes why a tool input was rejected.
type SchemaError struct {
	Tool   string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, ErrSchema.Error(), e.Detail)
}

// Is reports whether target is ErrSchema.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(emptyObjectSchema)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	loc := "mem://tools/" + url.PathEscape(name) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := c.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateInput checks candidate against the tool's schema and returns the
// normalized input. Empty input is treated as an empty object.
func (r *Registry) ValidateInput(name string, candidate json.RawMessage) (json.RawMessage, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return validate(e, candidate)
}

func validate(e *entry, candidate json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(candidate)) == 0 {
		candidate = json.RawMessage(`{}`)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(candidate))
	if err != nil {
		return nil, &SchemaError{Tool: e.def.Name, Detail: "input is not valid JSON: " + err.Error()}
	}
	if err := e.schema.Validate(inst); err != nil {
		return nil, &SchemaError{Tool: e.def.Name, Detail: err.Error()}
	}
	return candidate, nil
}
