package engine

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go-repack/log"
	"go-repack/pkg"
)

// ReservedPrefixes mark index entries that describe the system itself
// rather than installable packages. They are never listed or rebuilt.
var ReservedPrefixes = []string{"gsc.", "cy+"}

// IsReserved reports whether identifier carries a reserved prefix
func IsReserved(identifier string) bool {
	for _, prefix := range ReservedPrefixes {
		if strings.HasPrefix(identifier, prefix) {
			return true
		}
	}
	return false
}

// Handle owns one native engine instance.
type Handle struct {
	native Native
	logger log.LibraryLogger

	mu         sync.Mutex // held for the duration of every native call
	rebuilding atomic.Bool
	closed     atomic.Bool
}

// Open takes ownership of native and installs the callback trampolines and
// the log bridge. logger may be nil.
func Open(native Native, logger log.LibraryLogger) *Handle {
	h := &Handle{
		native: native,
		logger: log.OrNoOp(logger),
	}
	native.SetCallbacks(trampolines)
	native.SetLogger(h.nativeLog)
	return h
}

func (h *Handle) nativeLog(severity log.Severity, message string) {
	switch severity {
	case log.SeverityError:
		h.logger.Error("%s", message)
	case log.SeverityWarning:
		h.logger.Warn("%s", message)
	case log.SeverityInfo:
		h.logger.Info("%s", message)
	case log.SeverityDebug:
		h.logger.Debug("%s", message)
	}
}

// ParsePackages reads the native index. Reserved entries are released and
// left out; entries that cannot be converted are released, logged and
// skipped. When the native parse fails nothing is returned.
//
// ParsePackages waits for a running Rebuild to finish.
func (h *Handle) ParsePackages(onlyLeaves bool) ([]*pkg.Package, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return nil, ErrHandleClosed
	}

	raws, err := h.native.ParseIndex(onlyLeaves)
	if err != nil {
		for _, raw := range raws {
			releaseRaw(raw)
		}
		return nil, &ParseError{Err: err}
	}

	packages := make([]*pkg.Package, 0, len(raws))
	reserved := 0
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		if id, _ := raw.Field("Package"); IsReserved(id) {
			raw.Release()
			reserved++
			continue
		}

		p, err := Materialize(raw)
		if err != nil {
			raw.Release()
			h.logger.Warn("Skipping index entry: %v", err)
			continue
		}
		packages = append(packages, p)
	}

	h.logger.Debug("Parsed %d packages (%d reserved entries skipped)", len(packages), reserved)
	return packages, nil
}

// Rebuild runs one native rebuild of items into outDir and blocks until
// the native call returns. Events are delivered to receiver. A concurrent
// call fails with ErrReentrant instead of entering the engine.
//
// A running ParsePackages is waited for.
//
// On a successful return receiver has seen exactly one BatchFinished; if
// the native side did not emit it, it is emitted here. A failed native
// call is returned as *CatastrophicError and no BatchFinished is
// synthesized.
func (h *Handle) Rebuild(items []*pkg.Package, outDir string, prefs Compression, receiver Receiver) error {
	if !h.rebuilding.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	defer h.rebuilding.Store(false)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return ErrHandleClosed
	}

	raws := make([]RawPackage, 0, len(items))
	for _, p := range items {
		raw, err := nativeEntry(p)
		if err != nil {
			return err
		}
		raws = append(raws, raw)
	}

	guard := &batchGuard{Receiver: receiver}
	token := registerToken(guard)
	err := h.native.Rebuild(token, raws, outDir, prefs)
	unregisterToken(token)

	if err != nil {
		return &CatastrophicError{Op: "rebuild", Err: err}
	}
	if !guard.seen() {
		h.logger.Debug("Native engine returned without batch-finished; emitting it")
		guard.BatchFinished()
	}
	return nil
}

// CanRebuild reports why p cannot be handed to Rebuild, or nil when it can:
// only packages materialized from the native index carry an entry.
func CanRebuild(p *pkg.Package) error {
	_, err := nativeEntry(p)
	return err
}

func nativeEntry(p *pkg.Package) (RawPackage, error) {
	if p == nil {
		return nil, fmt.Errorf("nil package: %w", ErrNoNativeEntry)
	}
	if p.Origin != pkg.Parsed {
		return nil, fmt.Errorf("%s: %w", p, ErrNoNativeEntry)
	}
	if _, static := p.Details().(pkg.StaticDetails); static {
		return nil, fmt.Errorf("%s: %w", p, ErrNoNativeEntry)
	}
	raw, ok := p.Details().(RawPackage)
	if !ok || raw == nil {
		return nil, fmt.Errorf("%s: %w", p, ErrNoNativeEntry)
	}
	return raw, nil
}

// Close releases the native engine. The first call returns nil; later
// calls return ErrHandleClosed. Close waits for a running operation.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.closed.CompareAndSwap(false, true) {
		return ErrHandleClosed
	}
	h.native.Release()
	return nil
}

// Closed reports whether Close has been called
func (h *Handle) Closed() bool {
	return h.closed.Load()
}
