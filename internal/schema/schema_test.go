// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject(t *testing.T) {
	s := Object(map[string]any{
		"file_path": FilePath("path to the .dat file"),
		"gain":      Number("scale factor"),
	}, "file_path")

	assert.Equal(t, "object", s["type"])
	assert.Equal(t, false, s["additionalProperties"])
	assert.Equal(t, []any{"file_path"}, s["required"])

	props := s["properties"].(map[string]any)
	assert.Contains(t, props, "file_path")
	assert.Contains(t, props, "gain")
}

func TestObject_NoRequired(t *testing.T) {
	s := Object(nil)
	_, hasRequired := s["required"]
	assert.False(t, hasRequired)
	assert.NotNil(t, s["properties"])
}

func TestFillDefaults(t *testing.T) {
	s := Object(map[string]any{
		"name": String("series name"),
		"plan": Object(map[string]any{
			"rate": Number("sampling rate"),
		}),
	})

	FillDefaults(s, map[string]any{
		"name": "ElectricalSeries",
		"plan": map[string]any{"rate": 20000.0},
		"junk": "no matching property",
	})

	props := s["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	assert.Equal(t, "ElectricalSeries", name["default"])

	plan := props["plan"].(map[string]any)
	rate := plan["properties"].(map[string]any)["rate"].(map[string]any)
	assert.Equal(t, 20000.0, rate["default"])

	assert.NotContains(t, props, "junk")
}

func TestDeepUpdate_Scalars(t *testing.T) {
	dst := map[string]any{"a": 1, "b": "keep"}
	src := map[string]any{"a": 2, "c": true}

	out := DeepUpdate(dst, src)

	assert.Equal(t, 2, out["a"])
	assert.Equal(t, "keep", out["b"])
	assert.Equal(t, true, out["c"])
}

func TestDeepUpdate_NestedMaps(t *testing.T) {
	dst := map[string]any{
		"ecephys": map[string]any{
			"device": "Intan",
			"rate":   20000.0,
		},
	}
	src := map[string]any{
		"ecephys": map[string]any{
			"rate": 30000.0,
		},
	}

	out := DeepUpdate(dst, src)

	ecephys := out["ecephys"].(map[string]any)
	assert.Equal(t, "Intan", ecephys["device"])
	assert.Equal(t, 30000.0, ecephys["rate"])
}

func TestDeepUpdate_NamedListMerge(t *testing.T) {
	dst := map[string]any{
		"electrode_groups": []any{
			map[string]any{"name": "Shank1", "description": "Shank1 electrodes"},
			map[string]any{"name": "Shank2", "description": "Shank2 electrodes"},
		},
	}
	src := map[string]any{
		"electrode_groups": []any{
			map[string]any{"name": "Shank2", "location": "CA1"},
			map[string]any{"name": "Shank3", "description": "Shank3 electrodes"},
		},
	}

	out := DeepUpdate(dst, src)

	groups := out["electrode_groups"].([]any)
	require.Len(t, groups, 3)

	shank2 := groups[1].(map[string]any)
	assert.Equal(t, "Shank2 electrodes", shank2["description"])
	assert.Equal(t, "CA1", shank2["location"])

	shank3 := groups[2].(map[string]any)
	assert.Equal(t, "Shank3 electrodes", shank3["description"])
}

func TestDeepUpdate_ScalarListAppendsWithoutRepeats(t *testing.T) {
	dst := map[string]any{"experimenter": []any{"Baker", "Dichter"}}
	src := map[string]any{"experimenter": []any{"Dichter", "Tauffer"}}

	out := DeepUpdate(dst, src)

	assert.Equal(t, []any{"Baker", "Dichter", "Tauffer"}, out["experimenter"])
}

func TestDeepUpdate_NilDst(t *testing.T) {
	out := DeepUpdate(nil, map[string]any{"a": 1})
	assert.Equal(t, 1, out["a"])
}

func TestValidate_Accepts(t *testing.T) {
	s := Object(map[string]any{
		"file_path": FilePath("data file"),
		"gain":      Number("scale factor"),
	}, "file_path")

	err := Validate(s, map[string]any{"file_path": "/data/session.dat", "gain": 0.195})
	assert.NoError(t, err)
}

func TestValidate_MissingRequired(t *testing.T) {
	s := Object(map[string]any{
		"file_path": FilePath("data file"),
	}, "file_path")

	err := Validate(s, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestValidate_RejectsUnknownProperty(t *testing.T) {
	s := Object(map[string]any{
		"file_path": FilePath("data file"),
	}, "file_path")

	err := Validate(s, map[string]any{
		"file_path": "/data/session.dat",
		"file_pth":  "typo",
	})
	assert.Error(t, err)
}

func TestValidate_StructInstance(t *testing.T) {
	s := Object(map[string]any{
		"name": String("device name"),
	}, "name")

	instance := struct {
		Name string `json:"name"`
	}{Name: "Intan"}

	assert.NoError(t, Validate(s, instance))
}
