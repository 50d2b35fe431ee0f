package obs

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu   sync.RWMutex
	loggerOnce sync.Once
	logger     zerolog.Logger
)

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerOnce.Do(func() {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}

// SetOutput redirects the shared logger, returning the previous writer-less reset func.
// Used by tests to capture JSON lines.
func SetOutput(w io.Writer) (restore func()) {
	Logger()
	loggerMu.Lock()
	prev := logger
	logger = zerolog.New(w).With().Timestamp().Logger()
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	}
}

// LogRequest emits a structured JSON log line with common HTTP fields.
// Level follows the response status.
func LogRequest(entry map[string]any) {
	l := Logger()
	ev := l.Info()
	if code, ok := entry["status"].(int); ok {
		switch {
		case code >= 500:
			ev = l.Error()
		case code >= 400:
			ev = l.Warn()
		}
	}
	msg, _ := entry["msg"].(string)
	fields := make(map[string]any, len(entry))
	for k, v := range entry {
		if k == "msg" {
			continue
		}
		fields[k] = v
	}
	ev.Fields(fields).Msg(msg)
}
