// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/grammata/grammata/internal/auth"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// identityFrom returns the identity established by requireSession.
func identityFrom(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(auth.Identity)
	return identity, ok
}

// instrument records per-route request counts and latency. The route
// label uses the chi pattern, not the raw path, to keep cardinality
// bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// requireSession authenticates the request via the session cookie,
// renewing the session's idle window as a side effect. The ceiling and
// idle rules live in the session manager; this middleware only
// translates its sentinels.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cookieToken(r)
		if token == "" {
			s.unauthorized(w)
			return
		}

		identity, err := s.sessions.Touch(r.Context(), token)
		if err != nil {
			s.writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
