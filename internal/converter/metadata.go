// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package converter

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/nwb-convert/internal/schema"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

// DefaultDescription fills the session description when neither the source
// headers nor the user provide one.
const DefaultDescription = "Auto-generated by nwb-convert"

// Metadata merges the metadata extracted by every interface, later
// interfaces overriding earlier ones field by field, and fills the session
// defaults. The result is what a conversion uses when the user supplies no
// overrides.
func (c *Converter) Metadata() (types.Metadata, error) {
	merged := map[string]any{}
	for _, ni := range c.interfaces {
		doc, err := toDoc(ni.Interface.Metadata())
		if err != nil {
			return types.Metadata{}, fmt.Errorf("interface %q: %w", ni.Label, err)
		}
		schema.DeepUpdate(merged, doc)
	}

	meta, err := fromDoc(merged)
	if err != nil {
		return types.Metadata{}, err
	}
	ApplyDefaults(&meta)
	return meta, nil
}

// MergeUser overlays a user-supplied metadata document onto meta. User
// values win; named list entries (devices, electrode groups, series) merge
// by their name field.
func MergeUser(meta types.Metadata, user map[string]any) (types.Metadata, error) {
	base, err := toDoc(meta)
	if err != nil {
		return types.Metadata{}, err
	}
	schema.DeepUpdate(base, user)
	out, err := fromDoc(base)
	if err != nil {
		return types.Metadata{}, fmt.Errorf("merging user metadata: %w", err)
	}
	return out, nil
}

// LoadUserMetadata reads a YAML metadata overrides file.
func LoadUserMetadata(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing metadata file %s: %w", path, err)
	}
	return doc, nil
}

// ApplyDefaults fills the required session fields that sources commonly
// omit: a generated identifier, the epoch as a placeholder start time, and
// a standard description.
func ApplyDefaults(meta *types.Metadata) {
	if meta.Session.Identifier == "" {
		meta.Session.Identifier = uuid.NewString()
	}
	if meta.Session.StartTime.IsZero() {
		meta.Session.StartTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if meta.Session.Description == "" {
		meta.Session.Description = DefaultDescription
	}
}

// MetadataSchema describes the metadata tree for validation. The session
// block is strict; the modality blocks stay permissive because interfaces
// add their own columns.
func MetadataSchema() schema.Schema {
	return schema.Object(map[string]any{
		"session": schema.Object(map[string]any{
			"identifier":   schema.String("globally unique session identifier"),
			"description":  schema.String("free-text session summary"),
			"start_time":   schema.String("session start, RFC 3339"),
			"session_id":   schema.String("lab-local session name"),
			"experimenter": schema.Array(schema.String("experimenter name"), "people who ran the session"),
			"lab":          schema.String("lab name"),
			"institution":  schema.String("institution name"),
			"notes":        schema.String("acquisition notes"),
		}, "identifier", "start_time"),
		"subject": map[string]any{"type": "object"},
		"ecephys": map[string]any{"type": "object"},
		"ophys":   map[string]any{"type": "object"},
		"units":   map[string]any{"type": "array"},
	}, "session")
}

// MetadataSchemaWithDefaults pushes the values of meta into the metadata
// schema as per-property defaults. The metadata command prints this as the
// self-describing template for an overrides file.
func MetadataSchemaWithDefaults(meta types.Metadata) (schema.Schema, error) {
	doc, err := toDoc(meta)
	if err != nil {
		return nil, err
	}
	s := MetadataSchema()
	schema.FillDefaults(s, doc)
	return s, nil
}

// ValidateMetadata checks a merged metadata tree against MetadataSchema.
func ValidateMetadata(meta types.Metadata) error {
	doc, err := toDoc(meta)
	if err != nil {
		return err
	}
	if err := schema.Validate(MetadataSchema(), doc); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	return nil
}

func toDoc(meta types.Metadata) (map[string]any, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return doc, nil
}

func fromDoc(doc map[string]any) (types.Metadata, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return types.Metadata{}, fmt.Errorf("encoding metadata: %w", err)
	}
	var meta types.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return types.Metadata{}, fmt.Errorf("decoding metadata: %w", err)
	}
	return meta, nil
}
