package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_WithSuggestion(t *testing.T) {
	// Given: a connectivity error with a hint
	err := New(ErrCodeModelNotFound, "model Qwen3-30B not served at http://localhost:8000/v1", nil).
		WithSuggestion("Start llama-server with the model loaded.")

	// When: formatting for the terminal
	out := FormatForCLI(err)

	// Then: message, hint and code appear on their own lines
	assert.Contains(t, out, "Error: model Qwen3-30B not served")
	assert.Contains(t, out, "  Hint: Start llama-server")
	assert.Contains(t, out, "  Code: ERR_304_MODEL_NOT_FOUND")
}

func TestFormatForCLI_PlainError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))
	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
}

func TestFormatJSON_RoundTripsFields(t *testing.T) {
	// Given: an error with details and a cause
	err := New(ErrCodeFileUnreadable, "cannot read", errors.New("EOF")).WithDetail("path", "a.pdf")

	// When: rendering as JSON
	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	// Then: the document carries code, category and details
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ErrCodeFileUnreadable, got["code"])
	assert.Equal(t, "IO", got["category"])
	assert.Equal(t, "EOF", got["cause"])
	assert.Equal(t, "a.pdf", got["details"].(map[string]any)["path"])
}

func TestLogAttrs_SortedDetails(t *testing.T) {
	err := New(ErrCodeIndexFailed, "save failed", nil).
		WithDetail("z", "1").
		WithDetail("a", "2")

	attrs := LogAttrs(err)

	require.Len(t, attrs, 12)
	assert.Equal(t, "detail_a", attrs[8])
	assert.Equal(t, "detail_z", attrs[10])
}

func TestLogAttrs_PlainError(t *testing.T) {
	assert.Equal(t, []any{"error", "x"}, LogAttrs(errors.New("x")))
	assert.Nil(t, LogAttrs(nil))
}
