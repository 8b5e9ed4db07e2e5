package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type ctxKeyLogger int

const loggerKey ctxKeyLogger = 0

// requestLogger stores a request scoped logger in the context and logs every request once it finished.
// Query strings are never logged, the callback carries the authorization code.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			log := logger
			if id := middleware.GetReqID(r.Context()); id != "" {
				log = log.With().Str("request-id", id).Logger()
			}

			r = r.WithContext(context.WithValue(r.Context(), loggerKey, log))

			defer func() {
				log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote-ip", r.RemoteAddr).
					Int("status", ww.Status()).
					Int("bytes-out", ww.BytesWritten()).
					Dur("took", time.Since(start)).
					Msg("incoming request")
			}()

			next.ServeHTTP(ww, r)
		}

		return http.HandlerFunc(fn)
	}
}
