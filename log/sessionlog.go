package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go-repack/config"
)

const sessionDirName = "sessions"

// SessionLogPath returns the log file path for a rebuild session
func SessionLogPath(cfg *config.Config, sessionID string) string {
	return filepath.Join(cfg.LogsPath, sessionDirName, sessionID+".log")
}

// SessionLogger records the progress of one rebuild session in its own file.
// A logger whose file could not be created silently discards writes.
type SessionLogger struct {
	sessionID string
	file      *os.File
	mu        sync.Mutex
}

// NewSessionLogger creates the session log file
func NewSessionLogger(cfg *config.Config, sessionID string) *SessionLogger {
	path := SessionLogPath(cfg, sessionID)
	sl := &SessionLogger{sessionID: sessionID}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create session log dir: %v\n", err)
		return sl
	}
	file, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create session log: %v\n", err)
		return sl
	}
	sl.file = file
	return sl
}

// Close closes the session logger
func (sl *SessionLogger) Close() {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.file != nil {
		sl.file.Close()
		sl.file = nil
	}
}

func (sl *SessionLogger) printf(format string, args ...any) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.file == nil {
		return
	}
	fmt.Fprintf(sl.file, format, args...)
	sl.file.Sync()
}

// WriteHeader writes the log header
func (sl *SessionLogger) WriteHeader(requested []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(&b, "Rebuild session: %s\n", sl.sessionID)
	fmt.Fprintf(&b, "Started: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Packages (%d):\n", len(requested))
	for _, id := range requested {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	fmt.Fprintf(&b, "%s\n\n", strings.Repeat("=", 70))
	sl.printf("%s", b.String())
}

// WriteStarted records that the engine started on a package
func (sl *SessionLogger) WriteStarted(id string) {
	sl.printf("[%s] START  %s\n", time.Now().Format("15:04:05"), id)
}

// WriteSuccess records a built archive
func (sl *SessionLogger) WriteSuccess(id, path string) {
	sl.printf("[%s] OK     %s -> %s\n", time.Now().Format("15:04:05"), id, path)
}

// WriteFailure records a per-package failure
func (sl *SessionLogger) WriteFailure(id, reason string) {
	sl.printf("[%s] FAIL   %s: %s\n", time.Now().Format("15:04:05"), id, reason)
}

// WriteError records a session-level error
func (sl *SessionLogger) WriteError(msg string) {
	sl.printf("ERROR: %s\n", msg)
}

// WriteFooter writes the final state of the session
func (sl *SessionLogger) WriteFooter(state string, succeeded, failed int, duration time.Duration) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(&b, "SESSION %s\n", strings.ToUpper(state))
	fmt.Fprintf(&b, "Succeeded: %d  Failed: %d\n", succeeded, failed)
	fmt.Fprintf(&b, "Completed: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", duration)
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 70))
	sl.printf("%s", b.String())
}
