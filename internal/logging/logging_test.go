package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_JSONIncludesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := WithJobID(WithComponent(NewLogger("info", FormatJSON, &buf), "processing"), "job-1")
	logger.Info("job started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if record["component"] != "processing" {
		t.Errorf("component = %v, want processing", record["component"])
	}
	if record["job_id"] != "job-1" {
		t.Errorf("job_id = %v, want job-1", record["job_id"])
	}
}

func TestNewLogger_TextFormatRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", FormatText, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("short"); got != "****" {
		t.Errorf("SanitizeToken(short) = %q, want ****", got)
	}
	if got := SanitizeToken("abcdefghijkl"); got != "abcd...ijkl" {
		t.Errorf("SanitizeToken = %q, want abcd...ijkl", got)
	}
}

func TestSanitizePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := SanitizePath(home + "/videos/a.mp4"); got != "~/videos/a.mp4" {
		t.Errorf("SanitizePath = %q, want ~/videos/a.mp4", got)
	}
	if got := SanitizePath("/srv/a.mp4"); got != "/srv/a.mp4" {
		t.Errorf("SanitizePath changed unrelated path: %q", got)
	}
}
