package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewWithWriter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	log.With(String("signal", "J1-T")).Info(context.Background(), "aspect changed",
		Int("aspect", 2), Bool("off", false), Float64("distance", 12.5))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "aspect changed" || rec["signal"] != "J1-T" || rec["aspect"] != float64(2) {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestDurationField(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(Config{Format: "json"}, &buf).Info(context.Background(), "frame",
		Duration("tick", 100*time.Millisecond))
	if !strings.Contains(buf.String(), `"tick":"100ms"`) {
		t.Fatalf("duration not rendered as string: %q", buf.String())
	}
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "warn"}, &buf)
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filtering broken: %q", buf.String())
	}
}

func TestOnce_LogsEachKeyOnce(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{}, &buf)
	var once Once

	for i := 0; i < 3; i++ {
		once.Warn(context.Background(), log, "rule:bogus", "unknown rule type", String("type", "bogus"))
	}
	if !once.Warn(context.Background(), log, "rule:other", "unknown rule type") {
		t.Fatalf("a new key must be logged")
	}

	if n := strings.Count(buf.String(), "type=bogus"); n != 1 {
		t.Fatalf("bogus logged %d times, want 1:\n%s", n, buf.String())
	}
}

func TestEnsureRunID_Stable(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("empty run id")
	}
	again, id2 := EnsureRunID(ctx)
	if id2 != id || RunIDFromContext(again) != id {
		t.Fatalf("run id changed: %q vs %q", id, id2)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("nil logger should be replaced by Noop")
	}
}
