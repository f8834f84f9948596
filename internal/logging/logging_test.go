package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestDefaultNilReturnsDiscard(t *testing.T) {
	logger := Default(nil)
	if logger == nil {
		t.Fatal("Default(nil) returned nil")
	}
	// Must not panic and must not be enabled at any level.
	logger.Info("dropped")
	if logger.Enabled(t.Context(), slog.LevelError) {
		t.Error("discard logger should not be enabled")
	}
}

func TestDefaultPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	in := slog.New(slog.NewTextHandler(&buf, nil))
	out := Default(in)
	if out != in {
		t.Error("Default should return the provided logger unchanged")
	}
	out.Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected output to contain message, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, "json", slog.LevelInfo)
	slog.New(h).Info("m", "k", "v")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("json handler did not produce JSON: %q", buf.String())
	}

	buf.Reset()
	h = NewHandler(&buf, "text", slog.LevelInfo)
	slog.New(h).Info("m", "k", "v")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("text handler produced JSON: %q", buf.String())
	}
}
