package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"milliseconds", 500 * time.Millisecond, "500ms"},
		{"seconds", 45 * time.Second, "45.0s"},
		{"minutes", 3*time.Minute + 30*time.Second, "3m30s"},
		{"hours", 2*time.Hour + 15*time.Minute, "2h15m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestSpinnerWithoutTerminal(t *testing.T) {
	buf := capture(t, false)

	s := NewSpinner("Loading dimensions")
	s.Start()
	s.UpdateMessage("Loading facts")
	s.Stop(true, "Loaded")
	s.Stop(false, "ignored")

	assert.Equal(t, "Loading dimensions...\n✓ Loaded\n", buf.String())
}

func TestSpinnerAnimates(t *testing.T) {
	buf := capture(t, true)

	s := NewSpinner("Refreshing views")
	s.Start()
	time.Sleep(250 * time.Millisecond)
	s.Stop(false, "View refresh failed")

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Contains(t, buf.String(), "Refreshing views")
	assert.Contains(t, buf.String(), "View refresh failed")
}
