package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	apperrors "labhub/pkg/errors"

	"github.com/stretchr/testify/assert"
)

// capture redirects package output for the duration of a test
func capture(t *testing.T, color bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldColor := out, supportsColor
	out, supportsColor = &buf, color
	t.Cleanup(func() {
		out, supportsColor = oldOut, oldColor
	})
	return &buf
}

func TestColorFunc(t *testing.T) {
	funcs := []func(string) string{
		ColorSuccess, ColorError, ColorWarning, ColorInfo, ColorProgress, ColorBold, ColorDim,
	}

	capture(t, true)
	for _, f := range funcs {
		assert.NotEqual(t, "text", f("text"))
	}

	supportsColor = false
	for _, f := range funcs {
		assert.Equal(t, "text", f("text"))
	}
}

func TestShowHeader(t *testing.T) {
	buf := capture(t, false)
	ShowHeader("Warehouse Refresh")
	assert.Contains(t, buf.String(), "|"+strings.Repeat(" ", 15)+"Warehouse Refresh"+strings.Repeat(" ", 16)+"|")

	buf.Reset()
	ShowHeader("A title that is much longer than the fifty columns of the box")
	assert.Contains(t, buf.String(), "A title that is much longer")
}

func TestShowErrorPlain(t *testing.T) {
	buf := capture(t, false)
	ShowError(errors.New("dial tcp: connection refused"))

	assert.Contains(t, buf.String(), "ERROR: dial tcp: connection refused")
	assert.Contains(t, buf.String(), "TIP: Verify the host, port and network access")
}

func TestShowErrorAppError(t *testing.T) {
	buf := capture(t, false)
	err := apperrors.Wrap(errors.New("timeout"), apperrors.ErrCodeLockHeld, "another run holds the warehouse lock").
		WithSuggestions("Wait for the running refresh to finish")
	ShowError(err)

	s := buf.String()
	assert.Contains(t, s, "ERROR [LH8002]: another run holds the warehouse lock")
	assert.Contains(t, s, "timeout")
	assert.Contains(t, s, "TIP: Wait for the running refresh to finish")
}

func TestMessages(t *testing.T) {
	buf := capture(t, false)
	ShowSuccess("done")
	ShowWarning("careful")
	ShowInfo("fyi")
	PrintKeyValue("Run", "abc")

	s := buf.String()
	assert.Contains(t, s, "SUCCESS: done")
	assert.Contains(t, s, "WARNING: careful")
	assert.Contains(t, s, "INFO: fyi")
	assert.Contains(t, s, "Run:")
	assert.Contains(t, s, "abc")
}

func TestGetSuggestion(t *testing.T) {
	tests := []struct {
		message  string
		contains string
	}{
		{"Login failed for user 'etl'", "username and password"},
		{"Catalog Error: Table with name Dim_Product does not exist", "labhub init"},
		{"permission denied for schema dw", "create and modify tables"},
		{"IO Error: Could not set lock on file", "DuckDB file"},
		{"something else", ""},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := getSuggestion(tt.message)
			if tt.contains == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.contains)
		})
	}
}
