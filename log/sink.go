package log

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go-repack/broadcast"
)

// Severity orders log messages. Off is the most restrictive threshold.
type Severity int

const (
	SeverityOff Severity = iota
	SeverityError
	SeverityWarning
	SeverityInfo
	SeverityDebug
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityOff:
		return "off"
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseSeverity parses a severity name. Unknown names yield SeverityInfo
// and false.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return SeverityOff, true
	case "error", "err":
		return SeverityError, true
	case "warning", "warn":
		return SeverityWarning, true
	case "info":
		return SeverityInfo, true
	case "debug":
		return SeverityDebug, true
	}
	return SeverityInfo, false
}

// Message is one log line as delivered to views
type Message struct {
	Text     string
	Source   string
	Severity Severity
	Time     time.Time
}

// Subscriber receives log lines from a Sink.
type Subscriber interface {
	SubscriberID() broadcast.ID
	OnLogMessage(msg Message)
	OnFlush()
}

type sinkEvent struct {
	msg   Message
	flush bool
}

// sinkAdapter maps a Subscriber onto the broadcaster. It reuses the
// subscriber's identity so Unregister finds it again.
type sinkAdapter struct {
	sub Subscriber
}

func (a sinkAdapter) SubscriberID() broadcast.ID { return a.sub.SubscriberID() }

func (a sinkAdapter) Receive(e sinkEvent) error {
	if e.flush {
		a.sub.OnFlush()
		return nil
	}
	a.sub.OnLogMessage(e.msg)
	return nil
}

// Compile-time interface checks
var _ LibraryLogger = (*Sink)(nil)

// Sink is the ordering-preserving log broadcaster. It is constructed
// explicitly and passed down; there is no process-wide instance.
type Sink struct {
	b      *broadcast.Broadcaster[sinkEvent]
	level  atomic.Int32
	source string
	now    func() time.Time
}

// NewSink creates a sink that publishes messages at or below level.
func NewSink(level Severity) *Sink {
	s := &Sink{
		b:      broadcast.New[sinkEvent](broadcast.WithName("log")),
		source: "repack",
		now:    time.Now,
	}
	s.level.Store(int32(level))
	return s
}

// SetLevel changes the publishing threshold
func (s *Sink) SetLevel(level Severity) {
	s.level.Store(int32(level))
}

// Level returns the publishing threshold
func (s *Sink) Level() Severity {
	return Severity(s.level.Load())
}

// Enabled reports whether messages of the given severity are published
func (s *Sink) Enabled(sev Severity) bool {
	return sev != SeverityOff && sev <= s.Level()
}

// Register adds a view. Reports false if it was already registered.
func (s *Sink) Register(sub Subscriber) bool {
	return s.b.Register(sinkAdapter{sub: sub})
}

// Unregister removes a view. Reports false if it was not registered.
func (s *Sink) Unregister(sub Subscriber) bool {
	return s.b.UnregisterID(sub.SubscriberID())
}

// Publish fans msg out to every registered view.
func (s *Sink) Publish(msg Message) {
	if !s.Enabled(msg.Severity) {
		return
	}
	if msg.Time.IsZero() {
		msg.Time = s.now()
	}
	if msg.Source == "" {
		msg.Source = s.source
	}
	s.b.Publish(sinkEvent{msg: msg})
}

// Flush asks every view to flush after all messages published so far.
func (s *Sink) Flush() {
	s.b.Publish(sinkEvent{flush: true})
}

// Drain blocks until every scheduled delivery has been handled.
func (s *Sink) Drain() {
	s.b.Wait()
}

// Close flushes, drains and detaches all views.
func (s *Sink) Close() {
	s.Flush()
	s.Drain()
	s.b.Close()
}

func (s *Sink) logf(sev Severity, source, format string, args ...any) {
	if !s.Enabled(sev) {
		return
	}
	s.Publish(Message{
		Text:     fmt.Sprintf(format, args...),
		Source:   source,
		Severity: sev,
	})
}

func (s *Sink) Info(format string, args ...any) {
	s.logf(SeverityInfo, s.source, format, args...)
}

func (s *Sink) Debug(format string, args ...any) {
	s.logf(SeverityDebug, s.source, format, args...)
}

func (s *Sink) Warn(format string, args ...any) {
	s.logf(SeverityWarning, s.source, format, args...)
}

func (s *Sink) Error(format string, args ...any) {
	s.logf(SeverityError, s.source, format, args...)
}

// WithSource returns a LibraryLogger that tags its lines with source.
func (s *Sink) WithSource(source string) LibraryLogger {
	return &sourceLogger{sink: s, source: source}
}

type sourceLogger struct {
	sink   *Sink
	source string
}

func (l *sourceLogger) Info(format string, args ...any) {
	l.sink.logf(SeverityInfo, l.source, format, args...)
}

func (l *sourceLogger) Debug(format string, args ...any) {
	l.sink.logf(SeverityDebug, l.source, format, args...)
}

func (l *sourceLogger) Warn(format string, args ...any) {
	l.sink.logf(SeverityWarning, l.source, format, args...)
}

func (l *sourceLogger) Error(format string, args ...any) {
	l.sink.logf(SeverityError, l.source, format, args...)
}
