package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

const (
	// maxValueRunes bounds any string value; errors from model output
	// parsing can embed whole completions.
	maxValueRunes = 512
	// maxQueryRunes bounds user text that may quote archive documents.
	maxQueryRunes = 200
)

var queryKeys = map[string]bool{
	"query":         true,
	"clarification": true,
	"prompt":        true,
	"content":       true,
}

// NewJSONLogger writes JSON records to stdout.
func NewJSONLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level)
}

// New writes JSON records to w. The MCP server logs to stderr because stdout
// carries the protocol.
func New(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: replaceAttr,
	})
	return slog.New(handler).With("service", service)
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if secretKey(a.Key) {
		return slog.String(a.Key, "[redacted]")
	}
	if a.Key == "stack" {
		return a
	}

	var text string
	switch a.Value.Kind() {
	case slog.KindString:
		text = a.Value.String()
	case slog.KindAny:
		err, ok := a.Value.Any().(error)
		if !ok || err == nil {
			return a
		}
		text = err.Error()
	default:
		return a
	}

	limit := maxValueRunes
	if queryKeys[a.Key] {
		limit = maxQueryRunes
	}
	return slog.String(a.Key, truncate(text, limit))
}

func secretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token") ||
		strings.Contains(k, "api_key") || k == "dsn"
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "...(truncated)"
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
