// Package middleware provides the HTTP middleware chain of the API.
package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/poshub/orders-api/internal/logging"
)

// Correlation assigns every request a correlation id and logs its start and end.
type Correlation struct {
	logger *logging.Logger
}

// NewCorrelation creates the correlation middleware.
func NewCorrelation(logger *logging.Logger) *Correlation {
	return &Correlation{logger: logger}
}

// Handler returns the correlation middleware handler.
func (m *Correlation) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(logging.CorrelationIDHeader))
		if id == "" {
			id = logging.NewCorrelationID()
		}

		ctx := logging.WithCorrelationID(r.Context(), id)
		r = r.WithContext(ctx)

		// Set before the handler runs so error and panic paths carry it too.
		w.Header().Set(logging.CorrelationIDHeader, id)

		rw := wrapResponseWriter(w)
		start := time.Now()

		m.logger.LogRequestStart(ctx, r.Method, r.URL.Path, queryParams(r), clientIP(r), r.UserAgent())

		next.ServeHTTP(rw, r)

		m.logger.LogRequestEnd(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

func queryParams(r *http.Request) map[string]string {
	values := r.URL.Query()
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
