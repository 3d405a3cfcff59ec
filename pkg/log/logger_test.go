package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormatterFieldsInOrder(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(DebugLevel),
		WithFormatter(&TextFormatter{}),
		WithOutput(NewWriterOutput(&buf)),
	)
	l = l.With(Component("queue"))
	l.Info("consumer started", Int("concurrency", 5))

	line := buf.String()
	if !strings.Contains(line, "INFO") || !strings.Contains(line, "consumer started") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "component=queue") || !strings.Contains(line, "concurrency=5") {
		t.Fatalf("missing fields: %q", line)
	}
}

func TestJSONFormatterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithFormatter(&JSONFormatter{}),
		WithOutput(NewWriterOutput(&buf)),
	)
	l.Warn("lease expired", Str("queue", "post"), Int64("jobs", 3))

	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["level"] != "WARN" || obj["msg"] != "lease expired" || obj["queue"] != "post" {
		t.Fatalf("unexpected object: %v", obj)
	}
}

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(ErrorLevel), WithOutput(NewWriterOutput(&buf)))
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be dropped below error level: %q", buf.String())
	}
	l.Error("kept")
	if buf.Len() == 0 {
		t.Fatalf("error should be written")
	}
}

func TestParseLevel(t *testing.T) {
	if lv, err := ParseLevel("debug"); err != nil || lv != DebugLevel {
		t.Fatalf("parse debug: %v %v", lv, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
