package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerWithWriter_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"text", []string{"msg=\"submission accepted\"", "model_id=org/model"}},
		{"json", []string{`"msg":"submission accepted"`, `"model_id":"org/model"`}},
		{"TEXT", []string{"model_id=org/model"}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(slog.LevelInfo, tt.format, &buf)
		logger.Info("submission accepted", "model_id", "org/model")

		for _, w := range tt.want {
			if !strings.Contains(buf.String(), w) {
				t.Errorf("format %q: expected %q in output, got: %s", tt.format, w, buf.String())
			}
		}
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(slog.LevelWarn, "text", &buf)

	logger.Info("should not appear")
	logger.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Errorf("INFO message should be filtered at WARN level, got: %s", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("WARN message should appear at WARN level, got: %s", output)
	}
}

func TestNewLoggerWithWriter_RedactsAddresses(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(slog.LevelDebug, "json", &buf)
	child := logger.With("component", "intake", "client_ip", "203.0.113.7")

	child.Debug("checked", "remote_addr", "203.0.113.7:5555", "ip_hash", "ab12")

	output := buf.String()
	if strings.Contains(output, "203.0.113.7") {
		t.Errorf("raw address leaked: %s", output)
	}
	if !strings.Contains(output, `"client_ip":"[redacted]"`) {
		t.Errorf("expected redacted client_ip, got: %s", output)
	}
	if !strings.Contains(output, `"ip_hash":"ab12"`) {
		t.Errorf("hash should pass through, got: %s", output)
	}
	if !strings.Contains(output, `"component":"intake"`) {
		t.Errorf("expected component in output, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"text", "json", "JSON"} {
		if !ValidFormat(f) {
			t.Errorf("ValidFormat(%q) = false", f)
		}
	}
	if ValidFormat("logfmt") {
		t.Error("ValidFormat(logfmt) = true")
	}
}
