package log

import (
	"fmt"
	"strings"
	"sync"

	"go-repack/broadcast"
)

// MemoryLogger captures all log messages in memory for testing.
// Thread-safe for concurrent use. It can be used directly as a LibraryLogger
// or registered on a Sink as a Subscriber.
type MemoryLogger struct {
	broadcast.Identity
	mu       sync.Mutex
	messages []Message
	flushes  int
}

var (
	_ LibraryLogger = (*MemoryLogger)(nil)
	_ Subscriber    = (*MemoryLogger)(nil)
)

// NewMemoryLogger creates a new MemoryLogger for testing
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{
		Identity: broadcast.NewIdentity(),
		messages: make([]Message, 0),
	}
}

func (m *MemoryLogger) add(sev Severity, format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{
		Severity: sev,
		Text:     fmt.Sprintf(format, args...),
	})
}

func (m *MemoryLogger) Info(format string, args ...any)  { m.add(SeverityInfo, format, args...) }
func (m *MemoryLogger) Debug(format string, args ...any) { m.add(SeverityDebug, format, args...) }
func (m *MemoryLogger) Warn(format string, args ...any)  { m.add(SeverityWarning, format, args...) }
func (m *MemoryLogger) Error(format string, args ...any) { m.add(SeverityError, format, args...) }

// OnLogMessage implements Subscriber
func (m *MemoryLogger) OnLogMessage(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// OnFlush implements Subscriber
func (m *MemoryLogger) OnFlush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

// Flushes returns how many flush signals were received
func (m *MemoryLogger) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// GetMessages returns a copy of all captured messages
func (m *MemoryLogger) GetMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Message, len(m.messages))
	copy(result, m.messages)
	return result
}

// GetMessagesBySeverity returns all messages of a specific severity
func (m *MemoryLogger) GetMessagesBySeverity(sev Severity) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Message
	for _, msg := range m.messages {
		if msg.Severity == sev {
			result = append(result, msg)
		}
	}
	return result
}

// HasMessage checks if any message contains the given substring
func (m *MemoryLogger) HasMessage(substring string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if strings.Contains(msg.Text, substring) {
			return true
		}
	}
	return false
}

// HasMessageWithSeverity checks if any message at the given severity contains the substring
func (m *MemoryLogger) HasMessageWithSeverity(sev Severity, substring string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.Severity == sev && strings.Contains(msg.Text, substring) {
			return true
		}
	}
	return false
}

// Clear removes all captured messages
func (m *MemoryLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = make([]Message, 0)
	m.flushes = 0
}

// Count returns the total number of captured messages
func (m *MemoryLogger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// String returns a formatted string of all messages (useful for debugging tests)
func (m *MemoryLogger) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sb strings.Builder
	for i, msg := range m.messages {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, msg.Severity, msg.Text)
	}
	return sb.String()
}
