package main

import (
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// newLogger builds the process logger. Unknown formats fall back to text.
func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// parseLogLevel accepts debug, info, warn and error in any case and
// defaults to info.
func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

var passwordParam = regexp.MustCompile(`(?i)password=\S+`)

// redactURL drops the password from a DSN, keeping the user name.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}
	if u.User != nil {
		name := u.User.Username()
		if name == "" {
			name = "redacted"
		}
		u.User = url.User(name)
	}
	return u.String()
}

// sanitizeError renders err with every given DSN replaced by its redacted
// form and any key=value password scrubbed.
func sanitizeError(err error, dsns ...string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, dsn := range dsns {
		if dsn != "" {
			msg = strings.ReplaceAll(msg, dsn, redactURL(dsn))
		}
	}
	return passwordParam.ReplaceAllString(msg, "password=redacted")
}
