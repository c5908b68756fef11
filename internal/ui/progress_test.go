package ui

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{
			name:     "milliseconds",
			duration: 500 * time.Millisecond,
			expected: "500ms",
		},
		{
			name:     "seconds",
			duration: 45 * time.Second,
			expected: "45.0s",
		},
		{
			name:     "minutes",
			duration: 3*time.Minute + 30*time.Second,
			expected: "3m30s",
		},
		{
			name:     "hours",
			duration: 2*time.Hour + 15*time.Minute,
			expected: "2h15m",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			if result != tt.expected {
				t.Errorf("formatDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSpinnerStartStop(t *testing.T) {
	s := NewSpinner("loading farmer revenue")
	s.Start()
	s.UpdateMessage("still loading")
	time.Sleep(150 * time.Millisecond)
	s.Stop(true, "done")
}
