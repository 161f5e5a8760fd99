package langsmith

import (
	"strings"
	"sync"
)

// logMessage is one captured log call.
type logMessage struct {
	level   string
	message string
	fields  map[string]interface{}
}

// capturingLogger records log calls for test verification.
type capturingLogger struct {
	mu       sync.Mutex
	messages []logMessage
}

func (l *capturingLogger) Info(msg string, fields map[string]interface{}) {
	l.record("INFO", msg, fields)
}

func (l *capturingLogger) Error(msg string, fields map[string]interface{}) {
	l.record("ERROR", msg, fields)
}

func (l *capturingLogger) Warn(msg string, fields map[string]interface{}) {
	l.record("WARN", msg, fields)
}

func (l *capturingLogger) Debug(msg string, fields map[string]interface{}) {
	l.record("DEBUG", msg, fields)
}

func (l *capturingLogger) record(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, logMessage{level: level, message: msg, fields: fields})
}

// has reports whether a message at the given level contains the substring.
func (l *capturingLogger) has(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.level == level && strings.Contains(m.message, substr) {
			return true
		}
	}
	return false
}

// count returns how many messages were recorded at the given level.
func (l *capturingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if m.level == level {
			n++
		}
	}
	return n
}
