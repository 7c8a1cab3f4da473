package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "test-svc"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("simulation")
	l.Info().Str("session_id", "abc").Msg("session started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "simulation" {
		t.Errorf("Expected component simulation, got %v", entry["component"])
	}
	if entry["service"] != "test-svc" {
		t.Errorf("Expected service test-svc, got %v", entry["service"])
	}
	if entry["session_id"] != "abc" {
		t.Errorf("Expected session_id abc, got %v", entry["session_id"])
	}
}

func TestConfigureLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	l := Base()
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered at warn level, got %q", buf.String())
	}
	l.Warn().Msg("kept")
	if buf.Len() == 0 {
		t.Error("Expected warn entry to be written")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctxLogger := zerolog.New(&buf).With().Str("request_id", "req-1").Logger()
	ctx := ctxLogger.WithContext(context.Background())

	l := FromContext(ctx)
	l.Info().Msg("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"req-1"`)) {
		t.Errorf("Expected context logger to be used, got %q", buf.String())
	}

	var nilCtx context.Context
	_ = FromContext(nilCtx)
}
