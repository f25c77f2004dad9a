package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"seg2vol/pkg/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("hello", "case", "c1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a json record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" || rec["case"] != "c1" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewFromConfig(t *testing.T) {
	if _, err := NewFromConfig(config.DefaultConfig()); err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if _, err := NewFromConfig(nil); err != nil {
		t.Fatalf("NewFromConfig(nil) failed: %v", err)
	}
}
