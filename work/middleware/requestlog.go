package middleware

import (
	"net/http"
	"time"

	"aonline-proxy/work/client"
	"aonline-proxy/work/logger"

	"github.com/google/uuid"
)

// RequestIDHeader carries the id assigned to each request.
const RequestIDHeader = "X-Request-ID"

// RequestLogger tags every request with an id and logs its outcome at
// DEBUG level. It is shaped for mux.Router.Use.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		crw := client.NewCustomResponseWriter(w)
		next.ServeHTTP(crw, r)

		status := crw.StatusCode()
		if status == 0 {
			status = http.StatusOK
		}
		logger.Debug("{middleware/requestlog - RequestLogger} [%s] %s %s -> %d (%d bytes, %s)",
			id, r.Method, r.URL.Path, status, crw.BytesWritten(), time.Since(start).Round(time.Millisecond))
	})
}
