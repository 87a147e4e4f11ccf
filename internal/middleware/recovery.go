package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/poshub/orders-api/internal/errors"
	"github.com/poshub/orders-api/internal/httputil"
	"github.com/poshub/orders-api/internal/logging"
)

// Recovery turns handler panics into a 500 error envelope. A panic after the
// response header was sent is logged only.
func Recovery(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrapResponseWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.WithContext(r.Context()).
					WithField("panic", fmt.Sprint(rec)).
					WithField("stack", string(debug.Stack())).
					Error("request.panic")

				if rw.written {
					return
				}
				httputil.WriteError(rw, r, errors.Internal("Internal server error", fmt.Errorf("panic: %v", rec)))
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
