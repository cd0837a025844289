package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// captureLogOutput captures log output for testing by temporarily
// redirecting the logger to write to a buffer
func captureLogOutput(f func()) string {
	var buf bytes.Buffer

	oldLogger := defaultLogger
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	defaultLogger = slog.New(handler)

	f()

	defaultLogger = oldLogger
	return buf.String()
}

// captureLogOutputWithInit reinitializes the logger against a buffer so the
// InitLogger level and ReplaceAttr logic are exercised.
func captureLogOutputWithInit(level Level, format Format, f func()) string {
	var buf bytes.Buffer

	oldOutput := output
	oldLogger := defaultLogger
	output = &buf
	InitLogger(level, format)

	f()

	output = oldOutput
	defaultLogger = oldLogger
	slog.SetDefault(oldLogger)
	return buf.String()
}

func decodeLine(t *testing.T, out string) map[string]any {
	t.Helper()
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("failed to decode log line %q: %v", line, err)
	}
	return m
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     Level
		format    Format
		logFn     func()
		wantEmpty bool
		want      string
	}{
		{"debug visible at debug", LevelDebug, FormatJSON, func() { Debug("dbg") }, false, `"msg":"dbg"`},
		{"debug hidden at info", LevelInfo, FormatJSON, func() { Debug("dbg") }, true, ""},
		{"info hidden at warn", LevelWarn, FormatJSON, func() { Info("inf") }, true, ""},
		{"error visible at error", LevelError, FormatJSON, func() { Error("err") }, false, `"msg":"err"`},
		{"text format", LevelInfo, FormatText, func() { Info("hello") }, false, "msg=hello"},
		{"unknown level falls back to info", Level(99), FormatText, func() { Info("x") }, false, "msg=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureLogOutputWithInit(tt.level, tt.format, tt.logFn)
			if tt.wantEmpty {
				if out != "" {
					t.Errorf("expected no output, got %q", out)
				}
				return
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q does not contain %q", out, tt.want)
			}
		})
	}
}

func TestInitLogger_RFC3339Time(t *testing.T) {
	out := captureLogOutputWithInit(LevelInfo, FormatJSON, func() { Info("stamp") })
	m := decodeLine(t, out)
	ts, ok := m["time"].(string)
	if !ok || !strings.Contains(ts, "T") {
		t.Errorf("time = %v, want RFC3339 string", m["time"])
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("JSON") != FormatJSON {
		t.Error("JSON should parse to FormatJSON")
	}
	if ParseFormat("text") != FormatText || ParseFormat("") != FormatText {
		t.Error("text and empty should parse to FormatText")
	}
}

func TestRunID(t *testing.T) {
	id := NewRunID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("NewRunID() = %q is not a UUID: %v", id, err)
	}
	if NewRunID() == id {
		t.Error("NewRunID should not repeat")
	}

	ctx := WithRunID(context.Background(), id)
	if got := GetRunID(ctx); got != id {
		t.Errorf("GetRunID = %q, want %q", got, id)
	}
	if got := GetRunID(context.Background()); got != "" {
		t.Errorf("GetRunID on empty context = %q", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	out := captureLogOutput(func() {
		ctx := WithRunID(context.Background(), "run-123")
		InfoContext(ctx, "with run")
		InfoContext(context.Background(), "without run")
	})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], `"run_id":"run-123"`) {
		t.Errorf("first line missing run_id: %s", lines[0])
	}
	if strings.Contains(lines[1], "run_id") {
		t.Errorf("second line should not carry run_id: %s", lines[1])
	}
}

func TestLoggingFunctions(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		fn    func()
		level string
	}{
		{"Debug", func() { Debug("m", "k", "v") }, "DEBUG"},
		{"Info", func() { Info("m", "k", "v") }, "INFO"},
		{"Warn", func() { Warn("m", "k", "v") }, "WARN"},
		{"Error", func() { Error("m", "k", "v") }, "ERROR"},
		{"DebugContext", func() { DebugContext(ctx, "m", "k", "v") }, "DEBUG"},
		{"InfoContext", func() { InfoContext(ctx, "m", "k", "v") }, "INFO"},
		{"WarnContext", func() { WarnContext(ctx, "m", "k", "v") }, "WARN"},
		{"ErrorContext", func() { ErrorContext(ctx, "m", "k", "v") }, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := decodeLine(t, captureLogOutput(tt.fn))
			if m["level"] != tt.level {
				t.Errorf("level = %v, want %s", m["level"], tt.level)
			}
			if m["k"] != "v" {
				t.Errorf("k = %v, want v", m["k"])
			}
		})
	}
}

func TestAssetStatus(t *testing.T) {
	m := decodeLine(t, captureLogOutput(func() {
		AssetStatus(context.Background(), "cats/a.png", "added", "hash", "abc")
	}))
	if m["msg"] != "asset_status" || m["file"] != "cats/a.png" || m["status"] != "added" || m["hash"] != "abc" {
		t.Errorf("unexpected record: %v", m)
	}
	if m["level"] != "DEBUG" {
		t.Errorf("level = %v, want DEBUG", m["level"])
	}
}

func TestDiffSummary(t *testing.T) {
	m := decodeLine(t, captureLogOutput(func() {
		DiffSummary(context.Background(), 1, 2, 3, 4, 1500000)
	}))
	if m["msg"] != "cache_diff" {
		t.Errorf("msg = %v", m["msg"])
	}
	for key, want := range map[string]float64{"added": 1, "changed": 2, "removed": 3, "unchanged": 4} {
		if m[key] != want {
			t.Errorf("%s = %v, want %v", key, m[key], want)
		}
	}
	if m["hashed"] != "1.5 MB" {
		t.Errorf("hashed = %v, want 1.5 MB", m["hashed"])
	}
}

func TestCacheWarningAndAssetError(t *testing.T) {
	warn := decodeLine(t, captureLogOutput(func() {
		CacheWarning(context.Background(), "/a/.cache.json", errors.New("corrupt"))
	}))
	if warn["level"] != "WARN" || warn["location"] != "/a/.cache.json" || warn["error"] != "corrupt" {
		t.Errorf("unexpected warning record: %v", warn)
	}

	fail := decodeLine(t, captureLogOutput(func() {
		AssetError(context.Background(), "a.tiff", "enumerate", errors.New("unsupported"))
	}))
	if fail["level"] != "ERROR" || fail["operation"] != "enumerate" || fail["file"] != "a.tiff" {
		t.Errorf("unexpected error record: %v", fail)
	}
}

func TestGetLogger(t *testing.T) {
	if GetLogger() == nil {
		t.Fatal("GetLogger returned nil")
	}
}
