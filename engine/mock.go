package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-repack/log"
)

// MockNative is an in-memory Native for tests. Configure the exported
// fields before handing it to Open; the counters may be read at any time.
type MockNative struct {
	// Index is returned by ParseIndex, one map of fields per entry
	Index []map[string]string
	// ParseErr makes ParseIndex fail
	ParseErr error

	// Failures maps identifiers to the failure message reported for them
	Failures map[string]string
	// RebuildErr is returned by Rebuild after the items were processed;
	// BatchFinished is not emitted in that case
	RebuildErr error
	// OmitBatchFinished suppresses the BatchFinished callback
	OmitBatchFinished bool
	// DuplicateBatchFinished emits BatchFinished twice
	DuplicateBatchFinished bool
	// Parallel processes items on concurrent goroutines
	Parallel bool
	// ItemDelay is slept between ItemStarted and ItemFinished
	ItemDelay time.Duration
	// WriteArchives creates a small file for every successful item
	WriteArchives bool
	// Gate, when set, is received from before any item is processed
	Gate chan struct{}

	mu        sync.Mutex
	callbacks Callbacks
	logFn     LogFunc
	outDir    string
	prefs     Compression

	inFlight        atomic.Int32
	violations      atomic.Int32
	live            atomic.Int64
	useAfterRelease atomic.Int32
	doubleReleases  atomic.Int32
	parseCalls      atomic.Int32
	rebuildCalls    atomic.Int32
	released        atomic.Bool
}

var _ Native = (*MockNative)(nil)

// MockEntry builds an index entry from identifier, version and optional
// field/value pairs.
func MockEntry(identifier, version string, fieldValues ...string) map[string]string {
	entry := map[string]string{
		"Package": identifier,
		"Version": version,
	}
	for i := 0; i+1 < len(fieldValues); i += 2 {
		entry[fieldValues[i]] = fieldValues[i+1]
	}
	return entry
}

type mockRaw struct {
	owner    *MockNative
	fields   map[string]string
	released atomic.Bool
}

func (r *mockRaw) Field(name string) (string, bool) {
	if r.released.Load() {
		r.owner.useAfterRelease.Add(1)
		return "", false
	}
	v, ok := r.fields[name]
	return v, ok
}

func (r *mockRaw) Release() {
	if !r.released.CompareAndSwap(false, true) {
		r.owner.doubleReleases.Add(1)
		return
	}
	r.owner.live.Add(-1)
}

func (m *MockNative) newRaw(fields map[string]string) *mockRaw {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	m.live.Add(1)
	return &mockRaw{owner: m, fields: copied}
}

func (m *MockNative) clone(raw RawPackage) *mockRaw {
	if mr, ok := raw.(*mockRaw); ok {
		return m.newRaw(mr.fields)
	}
	fields := make(map[string]string)
	for _, name := range []string{"Package", "Version", "Name", "Section", "Architecture", "Installed-Size", "Description"} {
		if v, ok := raw.Field(name); ok {
			fields[name] = v
		}
	}
	return m.newRaw(fields)
}

func (m *MockNative) enter() {
	if m.inFlight.Add(1) > 1 {
		m.violations.Add(1)
	}
}

func (m *MockNative) leave() {
	m.inFlight.Add(-1)
}

func (m *MockNative) log(sev log.Severity, format string, args ...any) {
	m.mu.Lock()
	fn := m.logFn
	m.mu.Unlock()
	if fn != nil {
		fn(sev, fmt.Sprintf(format, args...))
	}
}

// ParseIndex implements Native
func (m *MockNative) ParseIndex(onlyLeaves bool) ([]RawPackage, error) {
	m.enter()
	defer m.leave()
	m.parseCalls.Add(1)

	if m.ParseErr != nil {
		m.log(log.SeverityError, "index parse failed: %v", m.ParseErr)
		return nil, m.ParseErr
	}

	depended := make(map[string]bool)
	if onlyLeaves {
		for _, entry := range m.Index {
			for _, dep := range strings.Split(entry["Depends"], ",") {
				if dep = strings.TrimSpace(dep); dep != "" {
					depended[strings.Fields(dep)[0]] = true
				}
			}
		}
	}

	raws := make([]RawPackage, 0, len(m.Index))
	for _, entry := range m.Index {
		if onlyLeaves && depended[entry["Package"]] {
			continue
		}
		raws = append(raws, m.newRaw(entry))
	}
	m.log(log.SeverityDebug, "index parsed: %d entries", len(raws))
	return raws, nil
}

// Rebuild implements Native
func (m *MockNative) Rebuild(token Token, items []RawPackage, outDir string, prefs Compression) error {
	m.enter()
	defer m.leave()
	m.rebuildCalls.Add(1)

	m.mu.Lock()
	cb := m.callbacks
	m.outDir = outDir
	m.prefs = prefs
	m.mu.Unlock()

	if m.Gate != nil {
		<-m.Gate
	}

	process := func(item RawPackage) {
		if cb.ItemStarted != nil {
			cb.ItemStarted(token, m.clone(item))
		}
		if m.ItemDelay > 0 {
			time.Sleep(m.ItemDelay)
		}

		id, _ := item.Field("Package")
		version, _ := item.Field("Version")
		failure := m.Failures[id]
		output := ""
		if failure == "" {
			output = filepath.Join(outDir, fmt.Sprintf("%s_%s.deb", id, version))
			if m.WriteArchives {
				if err := os.WriteFile(output, []byte(id+"@"+version+"\n"), 0644); err != nil {
					failure = err.Error()
					output = ""
				}
			}
		}

		if cb.ItemFinished != nil {
			cb.ItemFinished(token, m.clone(item), output, failure)
		}
	}

	if m.Parallel {
		var wg sync.WaitGroup
		for _, item := range items {
			wg.Add(1)
			go func(item RawPackage) {
				defer wg.Done()
				process(item)
			}(item)
		}
		wg.Wait()
	} else {
		for _, item := range items {
			process(item)
		}
	}

	if m.RebuildErr != nil {
		m.log(log.SeverityError, "rebuild aborted: %v", m.RebuildErr)
		return m.RebuildErr
	}

	if !m.OmitBatchFinished && cb.BatchFinished != nil {
		cb.BatchFinished(token)
		if m.DuplicateBatchFinished {
			cb.BatchFinished(token)
		}
	}
	return nil
}

// SetCallbacks implements Native
func (m *MockNative) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = cb
}

// SetLogger implements Native
func (m *MockNative) SetLogger(fn LogFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logFn = fn
}

// Release implements Native
func (m *MockNative) Release() {
	m.released.Store(true)
}

// Violations returns how many times the engine was entered concurrently
func (m *MockNative) Violations() int { return int(m.violations.Load()) }

// Live returns the number of raw packages handed out and not yet released
func (m *MockNative) Live() int64 { return m.live.Load() }

// UseAfterRelease returns how many field reads hit a released raw package
func (m *MockNative) UseAfterRelease() int { return int(m.useAfterRelease.Load()) }

// DoubleReleases returns how many times a raw package was released twice
func (m *MockNative) DoubleReleases() int { return int(m.doubleReleases.Load()) }

// ParseCalls returns the number of ParseIndex calls
func (m *MockNative) ParseCalls() int { return int(m.parseCalls.Load()) }

// RebuildCalls returns the number of Rebuild calls
func (m *MockNative) RebuildCalls() int { return int(m.rebuildCalls.Load()) }

// Released reports whether Release was called
func (m *MockNative) Released() bool { return m.released.Load() }

// LastOutDir returns the output directory of the last Rebuild
func (m *MockNative) LastOutDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outDir
}

// LastPrefs returns the compression preferences of the last Rebuild
func (m *MockNative) LastPrefs() Compression {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs
}
