package log

import (
	"io"

	charmlog "github.com/charmbracelet/log"

	"go-repack/broadcast"
)

// ConsoleSubscriber renders sink messages on a terminal
type ConsoleSubscriber struct {
	broadcast.Identity
	logger *charmlog.Logger
}

// NewConsoleSubscriber creates a console view writing to w. Messages above
// level are not printed.
func NewConsoleSubscriber(w io.Writer, level Severity) *ConsoleSubscriber {
	logger := charmlog.NewWithOptions(w, charmlog.Options{
		Prefix:          "repack",
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           charmLevel(level),
	})
	return &ConsoleSubscriber{
		Identity: broadcast.NewIdentity(),
		logger:   logger,
	}
}

// OnLogMessage implements Subscriber
func (c *ConsoleSubscriber) OnLogMessage(msg Message) {
	if msg.Severity == SeverityOff {
		return
	}
	c.logger.Log(charmLevel(msg.Severity), msg.Text, "source", msg.Source)
}

// OnFlush implements Subscriber; the console is unbuffered.
func (c *ConsoleSubscriber) OnFlush() {}

func charmLevel(sev Severity) charmlog.Level {
	switch sev {
	case SeverityDebug:
		return charmlog.DebugLevel
	case SeverityInfo:
		return charmlog.InfoLevel
	case SeverityWarning:
		return charmlog.WarnLevel
	case SeverityError:
		return charmlog.ErrorLevel
	default:
		return charmlog.FatalLevel
	}
}

// FileSubscriber forwards sink messages into the summary log files
type FileSubscriber struct {
	broadcast.Identity
	logger *Logger
}

// NewFileSubscriber creates a view backed by logger
func NewFileSubscriber(logger *Logger) *FileSubscriber {
	return &FileSubscriber{
		Identity: broadcast.NewIdentity(),
		logger:   logger,
	}
}

// OnLogMessage implements Subscriber
func (f *FileSubscriber) OnLogMessage(msg Message) {
	switch msg.Severity {
	case SeverityError:
		f.logger.Error("[%s] %s", msg.Source, msg.Text)
	case SeverityWarning:
		f.logger.Warn("[%s] %s", msg.Source, msg.Text)
	case SeverityInfo:
		f.logger.Info("[%s] %s", msg.Source, msg.Text)
	case SeverityDebug:
		f.logger.Debug("[%s] %s", msg.Source, msg.Text)
	}
}

// OnFlush implements Subscriber
func (f *FileSubscriber) OnFlush() {
	f.logger.Sync()
}
