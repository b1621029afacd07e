package log

import (
	"strings"
	"sync"
	"testing"
)

func TestMemoryLogger_CaptureMessages(t *testing.T) {
	logger := NewMemoryLogger()

	logger.Info("Starting process")
	logger.Debug("Debug info: step 1")
	logger.Warn("Warning: low disk space")
	logger.Error("Error: file not found")

	if logger.Count() != 4 {
		t.Errorf("Expected 4 messages, got %d", logger.Count())
	}

	for _, sev := range []Severity{SeverityInfo, SeverityDebug, SeverityWarning, SeverityError} {
		if n := len(logger.GetMessagesBySeverity(sev)); n != 1 {
			t.Errorf("Expected 1 %s message, got %d", sev, n)
		}
	}
}

func TestMemoryLogger_HasMessageWithSeverity(t *testing.T) {
	logger := NewMemoryLogger()

	logger.Info("Processing package com.example.tool")
	logger.Error("Failed to open index")

	tests := []struct {
		sev  Severity
		sub  string
		want bool
	}{
		{SeverityInfo, "com.example.tool", true},
		{SeverityError, "open index", true},
		{SeverityInfo, "open index", false},
		{SeverityWarning, "com.example", false},
	}

	for _, tt := range tests {
		if got := logger.HasMessageWithSeverity(tt.sev, tt.sub); got != tt.want {
			t.Errorf("HasMessageWithSeverity(%s, %q) = %v, want %v", tt.sev, tt.sub, got, tt.want)
		}
	}
}

func TestMemoryLogger_AsSinkSubscriber(t *testing.T) {
	logger := NewMemoryLogger()

	logger.OnLogMessage(Message{Text: "from sink", Source: "engine", Severity: SeverityWarning})
	logger.OnFlush()

	msgs := logger.GetMessages()
	if len(msgs) != 1 || msgs[0].Source != "engine" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if logger.Flushes() != 1 {
		t.Errorf("Flushes() = %d, want 1", logger.Flushes())
	}
}

func TestMemoryLogger_Clear(t *testing.T) {
	logger := NewMemoryLogger()
	logger.Info("one")
	logger.OnFlush()
	logger.Clear()

	if logger.Count() != 0 || logger.Flushes() != 0 {
		t.Errorf("Clear left count=%d flushes=%d", logger.Count(), logger.Flushes())
	}
}

func TestMemoryLogger_Concurrent(t *testing.T) {
	logger := NewMemoryLogger()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				logger.Info("goroutine %d message %d", id, j)
			}
		}(i)
	}
	wg.Wait()

	if logger.Count() != 1000 {
		t.Errorf("Expected 1000 messages, got %d", logger.Count())
	}
}

func TestMemoryLogger_String(t *testing.T) {
	logger := NewMemoryLogger()
	logger.Info("first")
	logger.Error("second")

	out := logger.String()
	if !strings.Contains(out, "1. [info] first") || !strings.Contains(out, "2. [error] second") {
		t.Errorf("unexpected String() output:\n%s", out)
	}
}
