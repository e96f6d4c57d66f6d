package proxy

import (
	"encoding/json"
	"os"
	"time"

	"github.com/localplatform/homeroute/internal/logging"
)

// AccessLogEntry is one proxied request's outcome
// (hr-proxy/src/logging.rs::AccessLogEntry).
type AccessLogEntry struct {
	Timestamp  string `json:"timestamp"`
	ClientIP   string `json:"client_ip"`
	Host       string `json:"host"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	UserAgent  string `json:"user_agent"`
}

// AccessLogger writes access log entries as JSON lines through a single
// background writer goroutine, so the request path never blocks on disk
// I/O (hr-proxy/src/logging.rs::AccessLogger). A nil *AccessLogger is a
// valid no-op logger, replacing the original's OptionalAccessLogger
// wrapper type.
type AccessLogger struct {
	entries chan AccessLogEntry
	done    chan struct{}
}

// StartAccessLogger opens path for appending and starts the writer
// goroutine. Returns nil (safe to Log against) if path is empty.
func StartAccessLogger(path string) (*AccessLogger, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	log := logging.WithComponent("proxy")
	l := &AccessLogger{entries: make(chan AccessLogEntry, 1024), done: make(chan struct{})}
	go func() {
		defer f.Close()
		defer close(l.done)
		enc := json.NewEncoder(f)
		for entry := range l.entries {
			if err := enc.Encode(entry); err != nil {
				log.Warn("failed to write access log entry", "error", err)
			}
		}
	}()
	log.Info("access logging enabled", "path", path)
	return l, nil
}

// Log enqueues entry for writing. Non-blocking for callers; when the buffer
// is full the new entry is silently dropped rather than stalling the
// request path (same drop-under-pressure policy as internal/events.Hub).
func (l *AccessLogger) Log(entry AccessLogEntry) {
	if l == nil {
		return
	}
	select {
	case l.entries <- entry:
	default:
	}
}

// Close stops accepting new entries and waits for the writer to drain.
func (l *AccessLogger) Close() {
	if l == nil {
		return
	}
	close(l.entries)
	<-l.done
}

// NowTimestamp returns the current time as RFC3339, the access log's
// timestamp format.
func NowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
