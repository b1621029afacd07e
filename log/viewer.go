package log

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go-repack/config"
)

// logAliases maps short names accepted by `repack logs` to file names
var logAliases = map[string]string{
	"00":      ResultsLogName,
	"results": ResultsLogName,
	"01":      SuccessLogName,
	"success": SuccessLogName,
	"02":      FailureLogName,
	"failure": FailureLogName,
	"03":      DebugLogName,
	"debug":   DebugLogName,
}

// ResolveLogPath maps a log name, alias or session ID onto a file path.
func ResolveLogPath(cfg *config.Config, name string) string {
	if file, ok := logAliases[name]; ok {
		return filepath.Join(cfg.LogsPath, file)
	}
	if strings.HasSuffix(name, ".log") {
		return filepath.Join(cfg.LogsPath, name)
	}
	return SessionLogPath(cfg, name)
}

// ListLogs writes the available log files to w
func ListLogs(cfg *config.Config, w io.Writer) error {
	fmt.Fprintln(w, "Available log files:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary logs:")
	fmt.Fprintf(w, "  00 or results  - %s\n", ResultsLogName)
	fmt.Fprintf(w, "  01 or success  - %s\n", SuccessLogName)
	fmt.Fprintf(w, "  02 or failure  - %s\n", FailureLogName)
	fmt.Fprintf(w, "  03 or debug    - %s\n", DebugLogName)
	fmt.Fprintln(w)

	sessions, err := ListSessionLogs(cfg)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		fmt.Fprintln(w, "Session logs:")
		for _, id := range sessions {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	return nil
}

// ListSessionLogs returns the IDs of all session logs, sorted
func ListSessionLogs(cfg *config.Config) ([]string, error) {
	dir := filepath.Join(cfg.LogsPath, sessionDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".log"))
	}
	sort.Strings(ids)
	return ids, nil
}

// ViewLog copies a log file to w
func ViewLog(cfg *config.Config, name string, w io.Writer) error {
	file, err := os.Open(ResolveLogPath(cfg, name))
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer file.Close()

	_, err = io.Copy(w, file)
	return err
}

// TailLog writes the last N lines of a log file to w
func TailLog(cfg *config.Config, name string, lines int, w io.Writer) error {
	file, err := os.Open(ResolveLogPath(cfg, name))
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer file.Close()

	// Keep a ring of the last N lines
	ring := make([]string, 0, lines)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if lines <= 0 {
			continue
		}
		if len(ring) == lines {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	for _, line := range ring {
		fmt.Fprintln(w, line)
	}
	return nil
}

// GrepLog writes the lines of a log file containing pattern to w,
// prefixed with their line numbers.
func GrepLog(cfg *config.Config, name, pattern string, w io.Writer) error {
	file, err := os.Open(ResolveLogPath(cfg, name))
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.Contains(line, pattern) {
			fmt.Fprintf(w, "%d: %s\n", lineNum, line)
		}
	}
	return scanner.Err()
}

// GetLogSummary returns success/failure counts from the list logs
func GetLogSummary(cfg *config.Config) map[string]int {
	summary := make(map[string]int)

	if lines, err := countLines(filepath.Join(cfg.LogsPath, SuccessLogName)); err == nil {
		summary["success"] = lines
	}
	if lines, err := countLines(filepath.Join(cfg.LogsPath, FailureLogName)); err == nil {
		summary["failed"] = lines
	}

	return summary
}

// countLines counts the non-empty, non-comment lines in a file
func countLines(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			count++
		}
	}

	return count, scanner.Err()
}
