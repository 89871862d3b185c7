package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaFromStruct(t *testing.T) {
	type searchArgs struct {
		Query   string   `json:"query" description:"Search terms"`
		Limit   int      `json:"limit,omitempty"`
		Exact   *bool    `json:"exact"`
		Tags    []string `json:"tags,omitempty"`
		Ignored string   `json:"-"`
		hidden  string
	}

	schema := SchemaFromStruct(searchArgs{})

	assert.Equal(t, "object", schema["type"])

	props := schema["properties"].(map[string]any)
	require.Len(t, props, 4)
	assert.Equal(t, "string", props["query"].(map[string]any)["type"])
	assert.Equal(t, "Search terms", props["query"].(map[string]any)["description"])
	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
	assert.Equal(t, "boolean", props["exact"].(map[string]any)["type"])
	assert.Equal(t, "array", props["tags"].(map[string]any)["type"])

	// omitempty and pointer fields are optional.
	assert.Equal(t, []string{"query"}, schema["required"])
}

func TestSchemaFromStruct_NonStruct(t *testing.T) {
	schema := SchemaFromStruct(42)
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
	assert.NotContains(t, schema, "required")
}

func TestValidateArguments_RequiredMissing(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}},
		"required":   []string{"a"},
	}

	err := ValidateArguments(map[string]any{}, schema)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "a", verr.Field)
}

func TestValidateArguments_RequiredAsAnySlice(t *testing.T) {
	// A schema decoded from JSON carries required as []any.
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}},
		"required":   []any{"a"},
	}

	err := ValidateArguments(map[string]any{}, schema)
	require.Error(t, err)
	assert.NoError(t, ValidateArguments(map[string]any{"a": 1.0}, schema))
}

func TestValidateArguments_TypeMismatch(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
			"name":  map[string]any{"type": "string"},
		},
	}

	assert.NoError(t, ValidateArguments(map[string]any{"count": 3.0}, schema))
	assert.NoError(t, ValidateArguments(map[string]any{"count": 3}, schema))

	err := ValidateArguments(map[string]any{"count": 3.5}, schema)
	require.Error(t, err)

	err = ValidateArguments(map[string]any{"name": 12.0}, schema)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
	assert.Equal(t, 12.0, verr.Value)
}

func TestValidateArguments_Enum(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type": "string",
				"enum": []string{"read", "write", "delete", "list"},
			},
		},
	}

	assert.NoError(t, ValidateArguments(map[string]any{"operation": "read"}, schema))

	err := ValidateArguments(map[string]any{"operation": "drop"}, schema)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "must be one of")
}

func TestValidateArguments_ExtraAndNilArgs(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "string"}},
	}

	// Undeclared arguments pass through; nil matches any type.
	assert.NoError(t, ValidateArguments(map[string]any{"b": 1}, schema))
	assert.NoError(t, ValidateArguments(map[string]any{"a": nil}, schema))
}
