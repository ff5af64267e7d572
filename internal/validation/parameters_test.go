package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

const httpRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "enum": ["GET", "POST", "PUT", "DELETE"] },
    "timeout": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": false
}`

func TestRegister_RejectsBadInput(t *testing.T) {
	v := NewParameterValidator()

	err := v.Register("", []byte(httpRequestSchema))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = v.Register("http.request", nil)
	require.Error(t, err)

	err = v.Register("http.request", []byte(`{"type": 42}`))
	require.Error(t, err, "invalid schemas are rejected at registration time")
}

func TestValidateParameters_Valid(t *testing.T) {
	v := NewParameterValidator()
	require.NoError(t, v.Register("http.request", []byte(httpRequestSchema)))

	err := v.ValidateParameters("http.request", map[string]any{
		"url":     "https://api.example.com",
		"method":  "POST",
		"timeout": 30,
	})
	assert.NoError(t, err)
}

func TestValidateParameters_Violations(t *testing.T) {
	v := NewParameterValidator()
	require.NoError(t, v.Register("http.request", []byte(httpRequestSchema)))

	err := v.ValidateParameters("http.request", map[string]any{
		"method":  "PATCH",
		"timeout": -1,
	})
	require.Error(t, err)

	ee, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, ee.Code)

	violations, ok := ee.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestValidateParameters_UnregisteredTypePasses(t *testing.T) {
	v := NewParameterValidator()
	assert.NoError(t, v.ValidateParameters("unknown.type", map[string]any{"anything": true}))
}

func TestRegister_ReplacesSchema(t *testing.T) {
	v := NewParameterValidator()
	require.NoError(t, v.Register("node", []byte(`{"type":"object","required":["a"]}`)))

	err := v.ValidateParameters("node", map[string]any{})
	require.Error(t, err)

	require.NoError(t, v.Register("node", []byte(`{"type":"object"}`)))
	assert.NoError(t, v.ValidateParameters("node", map[string]any{}))
}
