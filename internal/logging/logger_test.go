package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func captured(service string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(service)
	l.SetOutput(&buf)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	for _, service := range []string{"capirelay", "", "capirelay-serve-v1.0.0"} {
		logger := New(service)
		if logger == nil {
			t.Fatal("New() returned nil logger")
		}
		if logger.service != service {
			t.Errorf("New() service = %q, want %q", logger.service, service)
		}
	}
}

func TestLogger_WithContext(t *testing.T) {
	tp := trace.NewTracerProvider(trace.WithSyncer(tracetest.NewInMemoryExporter()))
	otel.SetTracerProvider(tp)

	tests := []struct {
		name     string
		hasTrace bool
	}{
		{name: "with trace context", hasTrace: true},
		{name: "without trace context", hasTrace: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("capirelay")
			ctx := context.Background()
			if tt.hasTrace {
				newCtx, s := otel.Tracer("test").Start(ctx, "test-span")
				ctx = newCtx
				defer s.End()
			}

			before := time.Now().UTC()
			entry := logger.WithContext(ctx)
			after := time.Now().UTC()

			if entry.Time.Before(before) || entry.Time.After(after) {
				t.Errorf("WithContext() Time %v not between %v and %v", entry.Time, before, after)
			}
			if entry.Fields == nil {
				t.Error("WithContext() Fields should not be nil")
			}
			if tt.hasTrace && entry.TraceID == "" {
				t.Error("WithContext() TraceID should be set with a span in context")
			}
			if !tt.hasTrace && entry.TraceID != "" {
				t.Errorf("WithContext() TraceID = %q, want empty", entry.TraceID)
			}
		})
	}
}

func TestLogEntry_DomainFields(t *testing.T) {
	logger, buf := captured("capirelay")

	logger.Plain().
		WithApp("1234").
		WithDataset("ds-1").
		WithBatch("batch-1").
		WithSource("nsq").
		WithField("batch_size", 10).
		WithFields(map[string]any{"status": 503}).
		WithError(errors.New("service unavailable")).
		Warn("batch requeued")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	line := lines[0]
	want := map[string]any{
		"level":      "warn",
		"msg":        "batch requeued",
		"service":    "capirelay",
		"app_id":     "1234",
		"dataset_id": "ds-1",
		"batch_id":   "batch-1",
		"source":     "nsq",
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s = %v, want %v", k, line[k], v)
		}
	}
	fields, _ := line["fields"].(map[string]any)
	if fields["batch_size"] != float64(10) || fields["status"] != float64(503) || fields["error"] != "service unavailable" {
		t.Errorf("fields = %v", fields)
	}
}

func TestLogEntry_LevelsAndFormatting(t *testing.T) {
	tests := []struct {
		name  string
		log   func(e *LogEntry)
		level string
		msg   string
	}{
		{name: "debug", log: func(e *LogEntry) { e.Debug("d") }, level: "debug", msg: "d"},
		{name: "infof", log: func(e *LogEntry) { e.Infof("queued %d", 3) }, level: "info", msg: "queued 3"},
		{name: "warnf", log: func(e *LogEntry) { e.Warnf("status %d", 429) }, level: "warn", msg: "status 429"},
		{name: "errorf", log: func(e *LogEntry) { e.Errorf("drop %s", "batch") }, level: "error", msg: "drop batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := captured("svc")
			tt.log(logger.Plain())

			lines := decodeLines(t, buf)
			if len(lines) != 1 {
				t.Fatalf("got %d lines, want 1", len(lines))
			}
			if lines[0]["level"] != tt.level || lines[0]["msg"] != tt.msg {
				t.Errorf("got level=%v msg=%v, want %s %s", lines[0]["level"], lines[0]["msg"], tt.level, tt.msg)
			}
			if _, ok := lines[0]["fields"]; ok {
				t.Error("empty fields should be omitted")
			}
		})
	}
}

func TestLogger_SetLevel(t *testing.T) {
	logger, buf := captured("svc")
	logger.SetLevel(LevelWarn)

	logger.Plain().Debug("hidden")
	logger.Plain().Info("hidden")
	logger.Plain().Warn("shown")
	logger.Plain().Error("shown")

	if got := len(decodeLines(t, buf)); got != 2 {
		t.Errorf("got %d lines at warn level, want 2", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGlobalFunctions(t *testing.T) {
	var buf bytes.Buffer
	Default().SetOutput(&buf)
	SetDefaultService("capirelay-test")
	defer func() {
		Default().SetOutput(os.Stdout)
		SetDefaultService("capirelay")
	}()

	Plain().Info("plain")
	WithFields(map[string]any{"k": "v"}).Info("fields")
	WithContext(context.Background()).Info("ctx")

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for _, l := range lines {
		if l["service"] != "capirelay-test" {
			t.Errorf("service = %v, want capirelay-test", l["service"])
		}
	}
}
