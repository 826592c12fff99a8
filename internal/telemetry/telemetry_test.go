package telemetry

import (
	"testing"

	"derivmm/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"debug": "DEBUG",
		"warn":  "WARN",
		"error": "ERROR",
		"info":  "INFO",
		"bogus": "INFO",
		"":      "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerDoesNotPanic(t *testing.T) {
	t.Parallel()
	logger := NewLogger(config.LoggingConfig{Level: "debug", Format: "json"})
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Info("smoke test")
}
