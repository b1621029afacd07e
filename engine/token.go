package engine

import "sync"

// Token is the opaque context value handed to the native engine with each
// Rebuild. Callbacks carry it back; it is never dereferenced as a pointer.
type Token uint64

// Receiver consumes the lifecycle events of one rebuild call. It owns every
// raw package it is handed.
type Receiver interface {
	ItemStarted(raw RawPackage)
	ItemFinished(raw RawPackage, output, failure string)
	BatchFinished()
}

var tokens = struct {
	sync.Mutex
	next      Token
	receivers map[Token]Receiver
}{
	receivers: make(map[Token]Receiver),
}

func registerToken(r Receiver) Token {
	tokens.Lock()
	defer tokens.Unlock()
	tokens.next++
	tokens.receivers[tokens.next] = r
	return tokens.next
}

func unregisterToken(t Token) {
	tokens.Lock()
	defer tokens.Unlock()
	delete(tokens.receivers, t)
}

func lookupToken(t Token) (Receiver, bool) {
	tokens.Lock()
	defer tokens.Unlock()
	r, ok := tokens.receivers[t]
	return r, ok
}

// liveTokens returns the number of registered tokens
func liveTokens() int {
	tokens.Lock()
	defer tokens.Unlock()
	return len(tokens.receivers)
}

// trampolines are installed as the native callbacks. A token that no
// longer resolves means the call it belonged to is over: the raw package
// is released and the event dropped.
var trampolines = Callbacks{
	ItemStarted: func(t Token, raw RawPackage) {
		r, ok := lookupToken(t)
		if !ok {
			releaseRaw(raw)
			return
		}
		r.ItemStarted(raw)
	},
	ItemFinished: func(t Token, raw RawPackage, output, failure string) {
		r, ok := lookupToken(t)
		if !ok {
			releaseRaw(raw)
			return
		}
		r.ItemFinished(raw, output, failure)
	},
	BatchFinished: func(t Token) {
		if r, ok := lookupToken(t); ok {
			r.BatchFinished()
		}
	},
}

func releaseRaw(raw RawPackage) {
	if raw != nil {
		raw.Release()
	}
}

// batchGuard forwards to the real receiver and lets at most one
// BatchFinished through.
type batchGuard struct {
	Receiver
	mu       sync.Mutex
	finished bool
}

func (g *batchGuard) BatchFinished() {
	g.mu.Lock()
	if g.finished {
		g.mu.Unlock()
		return
	}
	g.finished = true
	g.mu.Unlock()

	g.Receiver.BatchFinished()
}

func (g *batchGuard) seen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finished
}
