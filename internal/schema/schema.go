// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schema builds and validates the JSON Schemas that describe
// source configuration and session metadata.
// Implements: prd002-metadata (R4, R5);
//
//	docs/ARCHITECTURE § Metadata.
package schema

// Schema is a JSON Schema document in generic map form. Builders below
// return plain maps so format interfaces can compose them freely.
type Schema = map[string]any

// Object returns a base object schema with the given properties. Listed
// required names must exist in properties. Additional properties are
// rejected, so typos in source YAML surface as validation errors.
func Object(properties map[string]any, required ...string) Schema {
	if properties == nil {
		properties = map[string]any{}
	}
	s := Schema{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}

// String returns a string property schema.
func String(description string) Schema {
	return Schema{"type": "string", "description": description}
}

// FilePath returns a string property schema for a local file path.
func FilePath(description string) Schema {
	return Schema{"type": "string", "format": "file", "description": description}
}

// DirPath returns a string property schema for a local directory path.
func DirPath(description string) Schema {
	return Schema{"type": "string", "format": "directory", "description": description}
}

// Number returns a numeric property schema.
func Number(description string) Schema {
	return Schema{"type": "number", "description": description}
}

// Integer returns an integer property schema.
func Integer(description string) Schema {
	return Schema{"type": "integer", "description": description}
}

// Boolean returns a boolean property schema.
func Boolean(description string) Schema {
	return Schema{"type": "boolean", "description": description}
}

// Array returns an array property schema with the given item schema.
func Array(items Schema, description string) Schema {
	return Schema{"type": "array", "items": items, "description": description}
}

// FillDefaults pushes values from defaults into the matching property
// schemas as "default" entries. Nested objects recurse. Keys in defaults
// without a matching property are ignored.
func FillDefaults(s Schema, defaults map[string]any) {
	props, ok := s["properties"].(map[string]any)
	if !ok {
		return
	}
	for key, val := range defaults {
		sub, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		if nested, ok := val.(map[string]any); ok && sub["type"] == "object" {
			FillDefaults(sub, nested)
			continue
		}
		sub["default"] = val
	}
}
