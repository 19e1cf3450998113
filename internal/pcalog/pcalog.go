// Package pcalog extends logrus to allow for multiple named loggers, each
// with its own level, mirroring how a minimega-style binary fans one
// event out to several sinks (stderr, file, ring buffer) at independent
// verbosities. Call AddLogger for each desired sink, then use the
// package-level functions to send every event to all of them.
package pcalog

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level mirrors minilog's DEBUG -> INFO -> WARN -> ERROR -> FATAL ladder.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARN:
		return "warn"
	case ERROR:
		return "error"
	case FATAL:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level flag value (spec.md §9 "--log-level").
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	default:
		return 0, errors.New("pcalog: invalid log level " + s)
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case INFO:
		return logrus.InfoLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.FatalLevel
	}
}

type namedLogger struct {
	log   *logrus.Logger
	level Level
}

var (
	loggers = make(map[string]*namedLogger)
	mu      sync.RWMutex
)

// AddLogger registers a named sink that will receive every event at level
// or higher. output is typically os.Stderr, a log file, or an in-memory
// ring buffer.
func AddLogger(name string, output io.Writer, level Level) {
	mu.Lock()
	defer mu.Unlock()

	l := logrus.New()
	l.SetOutput(output)
	l.SetLevel(level.logrus())
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	loggers[name] = &namedLogger{log: l, level: level}
}

// DelLogger removes a sink previously added with AddLogger.
func DelLogger(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(loggers, name)
}

// SetLevel changes the level of a named logger.
func SetLevel(name string, level Level) error {
	mu.Lock()
	defer mu.Unlock()

	l, ok := loggers[name]
	if !ok {
		return errors.New("pcalog: no such logger " + name)
	}
	l.level = level
	l.log.SetLevel(level.logrus())
	return nil
}

// WillLog reports whether logging at level will reach any registered sink,
// so callers can skip building an expensive message.
func WillLog(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()

	for _, l := range loggers {
		if l.level <= level {
			return true
		}
	}
	return false
}

// Fields carries the structured context (run_id, server, gid) attached to
// a single event (spec.md §9 "structured logging").
type Fields map[string]interface{}

func dispatch(level Level, fields Fields, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()

	for _, l := range loggers {
		if l.level > level {
			continue
		}
		entry := l.log.WithFields(logrus.Fields(fields))
		switch level {
		case DEBUG:
			entry.Debugf(format, args...)
		case INFO:
			entry.Infof(format, args...)
		case WARN:
			entry.Warnf(format, args...)
		case ERROR:
			entry.Errorf(format, args...)
		default:
			entry.Logf(logrus.FatalLevel, format, args...)
		}
	}
}

func Debug(format string, args ...interface{}) { dispatch(DEBUG, nil, format, args...) }
func Info(format string, args ...interface{})  { dispatch(INFO, nil, format, args...) }
func Warn(format string, args ...interface{})  { dispatch(WARN, nil, format, args...) }
func Error(format string, args ...interface{}) { dispatch(ERROR, nil, format, args...) }

// Fatal logs at FATAL to every sink and exits the process, matching
// minilog's Fatal semantics.
func Fatal(format string, args ...interface{}) {
	dispatch(FATAL, nil, format, args...)
	os.Exit(1)
}

// DebugFields, InfoFields, WarnFields and ErrorFields attach structured
// context (typically run_id/server/gid) to a single event.
func DebugFields(fields Fields, format string, args ...interface{}) {
	dispatch(DEBUG, fields, format, args...)
}
func InfoFields(fields Fields, format string, args ...interface{}) {
	dispatch(INFO, fields, format, args...)
}
func WarnFields(fields Fields, format string, args ...interface{}) {
	dispatch(WARN, fields, format, args...)
}
func ErrorFields(fields Fields, format string, args ...interface{}) {
	dispatch(ERROR, fields, format, args...)
}
