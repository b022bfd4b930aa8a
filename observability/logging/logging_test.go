package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWithOptionsRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions(Options{Service: "reserved", Env: "test", Output: &buf})
	defer closer.Close()

	logger.Info("minted", slog.String("operation", "mint"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env", "operation"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing key %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" || line["message"] != "minted" || line["service"] != "reserved" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestSetupWithOptionsLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions(Options{Service: "reserved", Level: "warn", Output: &buf})
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("level filter not applied: %q", out)
	}
}

func TestSetupWithOptionsWritesFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "reserved.log")
	logger, closer := SetupWithOptions(Options{Service: "reserved", File: path, Output: &buf})
	logger.Error("persisted")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "persisted") {
		t.Fatalf("log file missing entry: %q", raw)
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("jwt_secret", "hunter2"); attr.Value.String() != RedactedValue {
		t.Fatalf("secret not masked: %v", attr)
	}
	if attr := MaskField("operation", "mint"); attr.Value.String() != "mint" {
		t.Fatalf("allowlisted key masked: %v", attr)
	}
	if attr := MaskField("token", ""); attr.Value.String() != "" {
		t.Fatalf("empty value should pass through: %v", attr)
	}
	if MaskValue("  ") != "  " || MaskValue("x") != RedactedValue {
		t.Fatalf("MaskValue mismatch")
	}
}
