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

// Compile-time interface checks
var _ LibraryLogger = (*Logger)(nil)

// Log file names under Config.LogsPath
const (
	ResultsLogName = "00_last_results.log"
	SuccessLogName = "01_success_list.log"
	FailureLogName = "02_failure_list.log"
	DebugLogName   = "03_debug.log"
)

// Logger manages the summary log files for go-repack
type Logger struct {
	cfg         *config.Config
	resultsFile *os.File
	successFile *os.File
	failureFile *os.File
	debugFile   *os.File
	mu          sync.Mutex
}

// NewLogger creates a new logger
func NewLogger(cfg *config.Config) (*Logger, error) {
	// Ensure logs directory exists
	if err := os.MkdirAll(cfg.LogsPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	l := &Logger{cfg: cfg}

	files := []struct {
		name string
		dst  **os.File
	}{
		{ResultsLogName, &l.resultsFile},
		{SuccessLogName, &l.successFile},
		{FailureLogName, &l.failureFile},
		{DebugLogName, &l.debugFile},
	}
	for _, f := range files {
		fh, err := os.Create(filepath.Join(cfg.LogsPath, f.name))
		if err != nil {
			l.Close()
			return nil, err
		}
		*f.dst = fh
	}

	// Write headers
	l.writeHeaders()

	return l, nil
}

// Close closes all log files
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, f := range []*os.File{l.resultsFile, l.successFile, l.failureFile, l.debugFile} {
		if f != nil {
			f.Close()
		}
	}
}

// writeHeaders writes initial headers to log files
func (l *Logger) writeHeaders() {
	timestamp := time.Now().Format(time.RFC3339)

	fmt.Fprintf(l.resultsFile, "go-repack build log - %s\n", timestamp)
	fmt.Fprintf(l.resultsFile, "%s\n\n", strings.Repeat("=", 70))

	fmt.Fprintf(l.successFile, "# Rebuilt packages - %s\n\n", timestamp)
	fmt.Fprintf(l.failureFile, "# Failed packages - %s\n\n", timestamp)
	fmt.Fprintf(l.debugFile, "Debug log - %s\n\n", timestamp)
}

// Success logs a successfully rebuilt package
func (l *Logger) Success(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(l.resultsFile, "[%s] SUCCESS: %s\n", timestamp, id)
	l.successFile.WriteString(id + "\n")

	l.resultsFile.Sync()
	l.successFile.Sync()
}

// Failed logs a package that failed to rebuild
func (l *Logger) Failed(id, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(l.resultsFile, "[%s] FAILED: %s (%s)\n", timestamp, id, reason)
	fmt.Fprintf(l.failureFile, "%s (%s)\n", id, reason)

	l.resultsFile.Sync()
	l.failureFile.Sync()
}

// Debug logs debug information
func (l *Logger) Debug(format string, args ...any) {
	l.write(SeverityDebug, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.write(SeverityError, format, args...)
}

// Warn logs a warning message (non-fatal issues)
func (l *Logger) Warn(format string, args ...any) {
	l.write(SeverityWarning, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...any) {
	l.write(SeverityInfo, format, args...)
}

func (l *Logger) write(sev Severity, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	line := fmt.Sprintf("[%s] %s: %s\n", timestamp, strings.ToUpper(sev.String()), fmt.Sprintf(format, args...))

	// Debug lines only go to the debug file; everything else lands in both
	if sev != SeverityDebug {
		l.resultsFile.WriteString(line)
	}
	l.debugFile.WriteString(line)
}

// Sync flushes every log file to disk
func (l *Logger) Sync() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, f := range []*os.File{l.resultsFile, l.successFile, l.failureFile, l.debugFile} {
		if f != nil {
			f.Sync()
		}
	}
}

// WriteSummary writes a summary to the results log
func (l *Logger) WriteSummary(session string, total, success, failed int, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.resultsFile, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "REBUILD SUMMARY\n")
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "Session:           %s\n", session)
	fmt.Fprintf(l.resultsFile, "Total packages:    %d\n", total)
	fmt.Fprintf(l.resultsFile, "Success:           %d\n", success)
	fmt.Fprintf(l.resultsFile, "Failed:            %d\n", failed)
	fmt.Fprintf(l.resultsFile, "Duration:          %s\n", duration)
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))

	l.resultsFile.Sync()
}
