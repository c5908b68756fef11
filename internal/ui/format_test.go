package ui

import (
	"errors"
	"strings"
	"testing"
)

func TestGetSuggestion(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected string
	}{
		{
			name:     "auth failure",
			message:  "pq: password authentication failed for user \"etl\"",
			expected: "FARMKPI_WAREHOUSE_PASSWORD",
		},
		{
			name:     "unreachable host",
			message:  "dial tcp: connection refused",
			expected: "host and port",
		},
		{
			name:     "missing schema",
			message:  "ERROR: schema \"analysis\" does not exist",
			expected: "database and schema names",
		},
		{
			name:     "not connected",
			message:  "not connected to warehouse",
			expected: "farmkpi setup",
		},
		{
			name:     "no suggestion",
			message:  "something else entirely",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := getSuggestion(tt.message)
			if tt.expected == "" {
				if result != "" {
					t.Errorf("getSuggestion() = %q, want empty", result)
				}
				return
			}
			if !strings.Contains(result, tt.expected) {
				t.Errorf("getSuggestion() = %q, want it to contain %q", result, tt.expected)
			}
		})
	}
}

func TestColorFuncWithoutTerminal(t *testing.T) {
	// Test output is not a terminal, so colors pass text through.
	if supportsColor {
		t.Skip("stdout is a terminal")
	}
	if got := ColorError("boom"); got != "boom" {
		t.Errorf("ColorError() = %q, want plain text", got)
	}
}

func TestShowErrorDoesNotPanic(t *testing.T) {
	ShowError(errors.New("line one\nline two"))
}
