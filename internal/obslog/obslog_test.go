package obslog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLegacyFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Options{Level: "info", ToConsole: true, Format: "legacy", Console: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("match_registered", zap.Int64("match_id", 7))
	logger.Debug("hidden")
	_ = closeFn()

	out := buf.String()
	if !strings.Contains(out, " | INFO | ") || !strings.Contains(out, "match_registered") {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatal("debug line written at info level")
	}
}

func TestJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.log")
	logger, closeFn, err := New(Options{Level: "debug", ToFile: true, Format: "json", FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("retry_conflict", zap.Int("attempt", 2))
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &line); err != nil {
		t.Fatalf("not json: %q", b)
	}
	if line["msg"] != "retry_conflict" || line["level"] != "debug" {
		t.Fatalf("line = %v", line)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_FILE", "/tmp/x.log")
	o := OptionsFromEnv()
	if o.Level != "warn" || !o.ToFile || !o.ToConsole || o.Format != "json" || o.FilePath != "/tmp/x.log" {
		t.Fatalf("options = %+v", o)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARNING") != zapcore.WarnLevel || parseLevel("bogus") != zapcore.InfoLevel {
		t.Fatal("parseLevel mismatch")
	}
}
