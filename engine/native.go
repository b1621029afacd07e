// Package engine bridges the native package-rebuilding engine into Go.
//
// The native engine owns the package index and the archive writer. It is
// driven through the Native contract and reports back through plain
// callback functions that carry an opaque Token. The Token is resolved
// through a locked table to the Receiver registered for the running call,
// so a callback never touches state whose lifetime it cannot prove.
//
// The engine is not re-entrant: one Handle runs at most one native
// operation at a time. There is no way to cancel a rebuild in flight.
package engine

import (
	"fmt"
	"strconv"
	"strings"

	"go-repack/log"
)

// RawPackage is one entry of the native package index. It is a native
// sub-resource: whoever holds it must call Release exactly once.
type RawPackage interface {
	Field(name string) (string, bool)
	Release()
}

// Callbacks are invoked by the native engine from its own threads during
// Rebuild. Every raw package passed to a callback is owned by the callee.
type Callbacks struct {
	ItemStarted   func(token Token, raw RawPackage)
	ItemFinished  func(token Token, raw RawPackage, output, failure string)
	BatchFinished func(token Token)
}

// LogFunc receives the native engine's internal diagnostics.
type LogFunc func(severity log.Severity, message string)

// Native is the contract of a native rebuilding engine.
type Native interface {
	// ParseIndex returns every indexed package. With onlyLeaves set, only
	// packages no other package depends on are returned. The caller owns
	// the returned raw packages.
	ParseIndex(onlyLeaves bool) ([]RawPackage, error)

	// Rebuild re-packages items into outDir, reporting progress through
	// the installed callbacks tagged with token. It blocks until the batch
	// is done. A non-nil error means the whole call failed. The items stay
	// owned by the caller.
	Rebuild(token Token, items []RawPackage, outDir string, prefs Compression) error

	SetCallbacks(cb Callbacks)
	SetLogger(fn LogFunc)

	// Release frees the native engine. No other method may be called
	// afterwards.
	Release()
}

// CompressionKind selects the archive member compressor
type CompressionKind int

const (
	CompressionXZ CompressionKind = iota
	CompressionGzip
	CompressionNone
)

// String returns the string representation of CompressionKind
func (k CompressionKind) String() string {
	switch k {
	case CompressionXZ:
		return "xz"
	case CompressionGzip:
		return "gzip"
	case CompressionNone:
		return "none"
	default:
		return "unknown"
	}
}

// Extension returns the file suffix for tar members, including the dot
func (k CompressionKind) Extension() string {
	switch k {
	case CompressionXZ:
		return ".xz"
	case CompressionGzip:
		return ".gz"
	default:
		return ""
	}
}

// Compression holds the archive compression preferences of a rebuild
type Compression struct {
	Kind  CompressionKind
	Level int // 0-9
}

// DefaultCompression is xz at level 6
var DefaultCompression = Compression{Kind: CompressionXZ, Level: 6}

// String formats the preferences as "kind:level"
func (c Compression) String() string {
	return fmt.Sprintf("%s:%d", c.Kind, c.Level)
}

// ParseCompression parses "kind" or "kind:level". The level defaults to 6.
func ParseCompression(s string) (Compression, error) {
	kindStr, levelStr, hasLevel := strings.Cut(strings.TrimSpace(s), ":")

	c := Compression{Level: DefaultCompression.Level}
	switch strings.ToLower(kindStr) {
	case "xz", "":
		c.Kind = CompressionXZ
	case "gzip", "gz":
		c.Kind = CompressionGzip
	case "none":
		c.Kind = CompressionNone
	default:
		return Compression{}, fmt.Errorf("unknown compression %q", kindStr)
	}

	if hasLevel {
		level, err := strconv.Atoi(levelStr)
		if err != nil || level < 0 || level > 9 {
			return Compression{}, fmt.Errorf("invalid compression level %q", levelStr)
		}
		c.Level = level
	}
	return c, nil
}
