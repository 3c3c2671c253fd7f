package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func resetState() {
	mutex.Lock()
	defer mutex.Unlock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	logBuffer = nil
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"aec":     "debug",
			"session": "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"aec", true, true, true},
		{"session", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState()

	before := GetLogger("aec")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger created before Initialize should NOT have debug enabled")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"aec": "debug"}})

	after := GetLogger("aec")
	if before != after {
		t.Error("Logger should be cached - same pointer before and after Initialize")
	}
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Cached logger should have debug enabled after Initialize")
	}
}

func TestSetLevels(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info"})

	logger := GetLogger("nats")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should start disabled")
	}

	SetLevels("info", map[string]string{"nats": "debug"})
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after SetLevels")
	}

	SetLevels("error", nil)
	if logger.Handler().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled at global error level")
	}
}

func TestBufferHandlerRecordsModuleAndAttrs(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug"})

	logger := GetLogger("session").With("camera_id", "cam0")
	logger.Warn("Cycle failed", "cycle", 3, "error", errors.New("link down"), slog.Group("bracket", "under", 10))

	entries := GetBuffer().Tail(0, "session", "")
	if len(entries) == 0 {
		t.Fatal("no entries buffered")
	}
	e := entries[len(entries)-1]
	if e.Module != "session" || e.Level != "warn" || e.Message != "Cycle failed" {
		t.Errorf("entry = %+v", e)
	}
	want := map[string]any{"camera_id": "cam0", "error": "link down", "bracket.under": int64(10)}
	for k, v := range want {
		if e.Attributes[k] != v {
			t.Errorf("attr %s = %v (%T), want %v", k, e.Attributes[k], e.Attributes[k], v)
		}
	}
}

func TestRingBufferTail(t *testing.T) {
	rb := NewRingBuffer(4)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, e := range []struct{ module, level string }{
		{"aec", "debug"},
		{"aec", "info"},
		{"session", "warn"},
		{"aec", "error"},
		{"session", "info"},
	} {
		rb.Write(LogEntry{Timestamp: base.Add(time.Duration(i) * time.Second), Module: e.module, Level: e.level})
	}

	if got := rb.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}

	tests := []struct {
		name   string
		n      int
		module string
		level  string
		want   []string
	}{
		{"all", 0, "", "", []string{"aec/info", "session/warn", "aec/error", "session/info"}},
		{"newest two", 2, "", "", []string{"aec/error", "session/info"}},
		{"module", 0, "aec", "", []string{"aec/info", "aec/error"}},
		{"level", 0, "", "warn", []string{"session/warn", "aec/error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rb.Tail(tt.n, tt.module, tt.level)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i, e := range got {
				if s := e.Module + "/" + e.Level; s != tt.want[i] {
					t.Errorf("entry %d = %s, want %s", i, s, tt.want[i])
				}
			}
		})
	}
}

func TestMultiHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer
	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")

	if count := strings.Count(buf.String(), "debug only message"); count != 1 {
		t.Errorf("Expected 1 debug message, got %d. Output: %s", count, buf.String())
	}
}

func TestJournalFields(t *testing.T) {
	fields := make(map[string]string)
	addAttrToFields(fields, slog.String("camera_id", "cam0"), nil)
	addAttrToFields(fields, slog.Float64("time", 0.0025), nil)
	addAttrToFields(fields, slog.Group("bracket", slog.Int("under", 10)), nil)
	addAttrToFields(fields, slog.Bool("applied", true), []string{"aec"})
	addAttrToFields(fields, slog.String("run-id", "r1"), nil)
	addAttrToFields(fields, slog.String("_hidden", "x"), nil)

	want := map[string]string{
		"CAMERA_ID":     "cam0",
		"TIME":          "0.0025",
		"BRACKET_UNDER": "10",
		"AEC_APPLIED":   "true",
		"RUN_ID":        "r1",
		"HIDDEN":        "x",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %q, want %q", k, fields[k], v)
		}
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			switch {
			case tt.isNil && got != nil:
				t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
			case !tt.isNil && got == nil:
				t.Errorf("parseLevel(%q) = nil, want %v", tt.input, tt.want)
			case !tt.isNil && *got != tt.want:
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, *got, tt.want)
			}
		})
	}
}
