// Package logging provides the structured logger used across the service.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with service-level fields and request context helpers.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a logger writing to stdout.
// format is "json" or "text"; unknown levels fall back to info.
func New(service, level, format string) *Logger {
	return NewWithOutput(service, level, format, os.Stdout)
}

// NewWithOutput creates a logger writing to out.
func NewWithOutput(service, level, format string, out io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "event",
			},
		})
	}

	return &Logger{Logger: l, service: service}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return NewWithOutput("test", "panic", "json", io.Discard)
}

// Service returns the service name attached to every entry.
func (l *Logger) Service() string {
	return l.service
}

// WithContext returns an entry carrying the service name and any request-scoped
// values bound to ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if ctx == nil {
		return entry
	}
	if id := GetCorrelationID(ctx); id != "" {
		entry = entry.WithField("correlation_id", id)
	}
	if userID := GetUserID(ctx); userID != "" {
		entry = entry.WithField("user_id", userID)
	}
	return entry.WithContext(ctx)
}

// LogRequestStart records the beginning of an inbound request.
func (l *Logger) LogRequestStart(ctx context.Context, method, path string, query map[string]string, clientIP, userAgent string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":       method,
		"path":         path,
		"query_params": query,
		"client_ip":    clientIP,
		"user_agent":   userAgent,
	}).Info("request.start")
}

// LogRequestEnd records the completion of an inbound request.
func (l *Logger) LogRequestEnd(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": status,
		"duration_ms": duration.Milliseconds(),
	}).Info("request.end")
}
