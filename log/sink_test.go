package log

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-repack/config"
)

func TestSink_FanOutPreservesOrder(t *testing.T) {
	sink := NewSink(SeverityDebug)
	a := NewMemoryLogger()
	b := NewMemoryLogger()
	sink.Register(a)
	sink.Register(b)

	for i := 0; i < 100; i++ {
		sink.Info("line %d", i)
	}
	sink.Drain()

	for name, m := range map[string]*MemoryLogger{"a": a, "b": b} {
		msgs := m.GetMessages()
		if len(msgs) != 100 {
			t.Fatalf("%s: got %d messages, want 100", name, len(msgs))
		}
		for i, msg := range msgs {
			if msg.Text != fmt.Sprintf("line %d", i) {
				t.Fatalf("%s: message %d = %q", name, i, msg.Text)
			}
		}
	}
}

func TestSink_LevelThreshold(t *testing.T) {
	tests := []struct {
		level Severity
		want  int
	}{
		{SeverityOff, 0},
		{SeverityError, 1},
		{SeverityWarning, 2},
		{SeverityInfo, 3},
		{SeverityDebug, 4},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			sink := NewSink(tt.level)
			m := NewMemoryLogger()
			sink.Register(m)

			sink.Error("e")
			sink.Warn("w")
			sink.Info("i")
			sink.Debug("d")
			sink.Drain()

			if m.Count() != tt.want {
				t.Errorf("level %s delivered %d messages, want %d", tt.level, m.Count(), tt.want)
			}
		})
	}
}

func TestSink_WithSourceTagsMessages(t *testing.T) {
	sink := NewSink(SeverityInfo)
	m := NewMemoryLogger()
	sink.Register(m)

	sink.WithSource("engine").Info("parsed %d", 3)
	sink.Info("plain")
	sink.Drain()

	msgs := m.GetMessages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Source != "engine" || msgs[0].Text != "parsed 3" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Source != "repack" {
		t.Errorf("default source = %q, want repack", msgs[1].Source)
	}
	if msgs[0].Time.IsZero() {
		t.Error("message time not stamped")
	}
}

func TestSink_FlushAfterMessages(t *testing.T) {
	sink := NewSink(SeverityInfo)
	m := NewMemoryLogger()
	sink.Register(m)

	sink.Info("before flush")
	sink.Flush()
	sink.Drain()

	if m.Count() != 1 || m.Flushes() != 1 {
		t.Errorf("count=%d flushes=%d, want 1/1", m.Count(), m.Flushes())
	}
}

func TestSink_Unregister(t *testing.T) {
	sink := NewSink(SeverityInfo)
	m := NewMemoryLogger()

	if !sink.Register(m) {
		t.Fatal("Register should succeed")
	}
	if sink.Register(m) {
		t.Error("second Register should be a no-op")
	}
	if !sink.Unregister(m) {
		t.Error("Unregister should succeed")
	}

	sink.Info("ignored")
	sink.Drain()
	if m.Count() != 0 {
		t.Errorf("unregistered view received %d messages", m.Count())
	}
}

func TestConsoleSubscriber(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsoleSubscriber(&buf, SeverityInfo)

	console.OnLogMessage(Message{Text: "visible", Source: "engine", Severity: SeverityWarning})
	console.OnLogMessage(Message{Text: "hidden", Source: "engine", Severity: SeverityDebug})

	out := buf.String()
	if !strings.Contains(out, "visible") || !strings.Contains(out, "engine") {
		t.Errorf("console output missing message: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message printed at info level: %q", out)
	}
}

func TestFileSubscriber(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	sink := NewSink(SeverityDebug)
	sink.Register(NewFileSubscriber(logger))
	sink.WithSource("cache").Error("write failed")
	sink.Flush()
	sink.Drain()

	data, err := os.ReadFile(filepath.Join(cfg.LogsPath, ResultsLogName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ERROR: [cache] write failed") {
		t.Errorf("results log missing forwarded error:\n%s", data)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"off":     SeverityOff,
		"ERROR":   SeverityError,
		"warn":    SeverityWarning,
		"Warning": SeverityWarning,
		"info":    SeverityInfo,
		"debug":   SeverityDebug,
	}
	for in, want := range tests {
		got, ok := ParseSeverity(in)
		if !ok || got != want {
			t.Errorf("ParseSeverity(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseSeverity("loud"); ok {
		t.Error("ParseSeverity should reject unknown names")
	}
}
