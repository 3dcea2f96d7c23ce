package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestComponentLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf}).Component("cache")

	l.LogDecode("doc/3/1", 5*time.Millisecond, nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if lines[0]["component"] != "cache" {
		t.Errorf("Expected component=cache, got %v", lines[0]["component"])
	}
	if lines[0]["service"] != "docsession" {
		t.Errorf("Expected service=docsession, got %v", lines[0]["service"])
	}
	if lines[0]["key"] != "doc/3/1" {
		t.Errorf("Expected key field, got %v", lines[0]["key"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.LogStoreOperation("upsert", "doc", time.Millisecond, nil)
	l.LogStoreOperation("upsert", "doc", time.Millisecond, errors.New("disk full"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected only the error line, got %d lines", len(lines))
	}
	if lines[0]["level"] != "error" {
		t.Errorf("Expected level=error, got %v", lines[0]["level"])
	}
	if lines[0]["error"] != "disk full" {
		t.Errorf("Expected error field, got %v", lines[0]["error"])
	}
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Info("ignored").Send()
	l.LogSessionOpen("doc", 10, 3)
}
