package langsmith

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal logging interface the client writes through.
// Supply your own implementation with WithLogger to route client logs
// into your application's logging stack.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// stdLogger is the built-in production logger.
// JSON format in Kubernetes for log aggregation, text for local development.
// Error output is rate limited so a failing backend cannot flood logs.
type stdLogger struct {
	level  string
	debug  bool
	format string
	output io.Writer
	mu     sync.RWMutex

	errorLimiter *rateLimiter
}

// newStdLogger builds a logger from the environment.
// Configuration priority:
//  1. Environment variables (LANGSMITH_LOG_LEVEL, LANGSMITH_DEBUG, LANGSMITH_LOG_FORMAT)
//  2. Auto-detection (K8s environment)
//  3. Defaults
func newStdLogger() *stdLogger {
	level := os.Getenv("LANGSMITH_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}

	debug := os.Getenv("LANGSMITH_DEBUG") == "true" ||
		strings.ToUpper(level) == "DEBUG"

	// JSON in K8s for log aggregation, text for local development
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("LANGSMITH_LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	return &stdLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		format:       format,
		output:       os.Stderr,
		errorLimiter: newRateLimiter(1 * time.Second),
	}
}

// Info logs informational messages
func (l *stdLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

// Warn logs warning messages
func (l *stdLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

// Error logs error messages with rate limiting
func (l *stdLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

// Debug logs debug messages (only when debug mode is enabled)
func (l *stdLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *stdLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)

	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
}

// logJSON outputs structured JSON logs
func (l *stdLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	logEntry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"component": "langsmith",
		"message":   msg,
	}

	for k, v := range fields {
		// Avoid overwriting core fields
		if k != "timestamp" && k != "level" && k != "component" && k != "message" {
			logEntry[k] = v
		}
	}

	if data, err := json.Marshal(logEntry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

// logText outputs human-readable text logs
func (l *stdLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var fieldStr strings.Builder
	if len(fields) > 0 {
		fieldStr.WriteString(" ")
		// Common fields first for readability
		if op, ok := fields["operation"]; ok {
			fieldStr.WriteString(fmt.Sprintf("operation=%v ", op))
			delete(fields, "operation")
		}
		if err, ok := fields["error"]; ok {
			fieldStr.WriteString(fmt.Sprintf("error=\"%v\" ", err))
			delete(fields, "error")
		}
		for k, v := range fields {
			fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}

	fmt.Fprintf(l.output, "%s [%s] [langsmith] %s%s\n",
		timestamp, level, msg, fieldStr.String())
}

// shouldLog determines if a log level should be output
func (l *stdLogger) shouldLog(level string) bool {
	levels := map[string]int{
		"DEBUG": 0,
		"INFO":  1,
		"WARN":  2,
		"ERROR": 3,
	}

	currentLevel, ok1 := levels[l.level]
	messageLevel, ok2 := levels[level]

	// Default to logging if levels are unknown
	if !ok1 || !ok2 {
		return true
	}

	return messageLevel >= currentLevel
}

// SetOutput changes the output writer (useful for testing)
func (l *stdLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// rateLimiter allows at most one action per interval
type rateLimiter struct {
	interval time.Duration
	lastTime time.Time
	mu       sync.Mutex
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{
		interval: interval,
	}
}

// Allow returns true if an action is allowed based on rate limiting
func (r *rateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastTime) >= r.interval {
		r.lastTime = now
		return true
	}
	return false
}
