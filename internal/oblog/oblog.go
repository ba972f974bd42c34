// Package oblog provides the key=value log sink consumed by the sync engine.
// Formatting stays deliberately simple; downstream log shippers do the rest.
package oblog

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger writes leveled key=value lines to a single writer.
// Safe for use from multiple goroutines.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// New creates a Logger writing to out.
func New(out io.Writer) *Logger {
	return &Logger{out: out, now: time.Now}
}

// Default returns a Logger writing to stderr.
func Default() *Logger {
	return New(os.Stderr)
}

// Info logs an informational message with optional context fields.
func (l *Logger) Info(msg string, kv ...any) { l.log("INFO", msg, kv) }

// Warn logs a warning with optional context fields.
func (l *Logger) Warn(msg string, kv ...any) { l.log("WARN", msg, kv) }

// Error logs an error with optional context fields.
func (l *Logger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv) }

func (l *Logger) log(level, msg string, kv []any) {
	fields := formatFields(kv)

	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.now().UTC().Format(time.RFC3339)
	if fields == "" {
		fmt.Fprintf(l.out, "%s %-5s %s\n", ts, level, msg)
		return
	}
	fmt.Fprintf(l.out, "%s %-5s %s %s\n", ts, level, msg, fields)
}

// formatFields renders alternating key/value pairs as "k=v" tokens.
// An odd trailing key is rendered with a bare "?" value rather than dropped.
func formatFields(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	parts := make([]string, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		val := "?"
		if i+1 < len(kv) {
			val = fmt.Sprint(kv[i+1])
		}
		if strings.ContainsAny(val, " \t") {
			val = fmt.Sprintf("%q", val)
		}
		parts = append(parts, key+"="+val)
	}
	return strings.Join(parts, " ")
}

// Fields is a convenience for callers that accumulate context before logging.
type Fields map[string]any

// Flatten converts a Fields map into the alternating form the Logger accepts,
// with keys in deterministic order.
func (f Fields) Flatten() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(f)*2)
	for _, k := range keys {
		out = append(out, k, f[k])
	}
	return out
}
