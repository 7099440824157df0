// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validate checks instance against s and returns a wrapped validation
// error on failure. Both the schema and the instance are round-tripped
// through JSON so that YAML-decoded values (int, map[string]any) and
// struct values validate identically.
func Validate(s Schema, instance any) error {
	doc, err := toJSONValue(s)
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}
	inst, err := toJSONValue(instance)
	if err != nil {
		return fmt.Errorf("encoding instance: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	if err := compiled.Validate(inst); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// toJSONValue converts v to the generic value types produced by
// encoding/json (map[string]any, []any, float64, string, bool, nil).
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
