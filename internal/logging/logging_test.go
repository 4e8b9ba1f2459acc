package logging

import "testing"

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"empty", "", "****"},
		{"short", "abc123", "****"},
		{"exactly eight", "12345678", "****"},
		{"long token", "AIzaSyD4f8k2m9x1q7w3e5", "AIza...w3e5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeToken(tt.token); got != tt.want {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "bogus", ""} {
		if logger := NewLogger(level); logger == nil {
			t.Errorf("NewLogger(%q) returned nil", level)
		}
	}
}
