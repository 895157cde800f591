// Package logger keeps a bounded in-memory list of recent log entries and
// wires it into logrus so the operator API can show them.
package logger

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Message represents a single log message
type Message struct {
	Timestamp time.Time      `json:"timestamp"`
	Text      string         `json:"text"`
	Level     string         `json:"level"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger manages in-memory log messages
type Logger struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
}

// New creates a new logger with specified max message count
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Logger{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
	}
}

func (l *Logger) add(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	if len(l.messages) > l.maxSize {
		l.messages = l.messages[len(l.messages)-l.maxSize:]
	}
}

// GetRecent returns the most recent n messages (newest first). A negative n
// returns them all.
func (l *Logger) GetRecent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.messages) || n < 0 {
		n = len(l.messages)
	}

	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = l.messages[len(l.messages)-1-i]
	}
	return result
}

// Levels implements logrus.Hook. Debug and trace entries are not kept.
func (l *Logger) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel, log.InfoLevel}
}

// Fire implements logrus.Hook.
func (l *Logger) Fire(e *log.Entry) error {
	msg := Message{Timestamp: e.Time, Text: e.Message, Level: e.Level.String()}
	if len(e.Data) > 0 {
		msg.Fields = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			msg.Fields[k] = v
		}
	}
	l.add(msg)
	return nil
}

// Setup configures the standard logrus logger: level from a name such as
// "debug" or "warn" (info when empty), text output with full timestamps, and
// the ring as a hook when non-nil.
func Setup(level string, ring *Logger) error {
	lvl := log.InfoLevel
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return err
		}
		lvl = parsed
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if ring != nil {
		log.AddHook(ring)
	}
	return nil
}
