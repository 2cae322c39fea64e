// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authd/internal/logging"
)

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-Id"

const unmatchedRoute = "unmatched"

var tracer = otel.Tracer("authd/httpapi")

// statusWriter records the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	//nolint:wrapcheck // ResponseWriter passthrough
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// instrument tags each request with a ULID, runs it inside a server span,
// recovers panics, and logs and counts the result by route pattern.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := ulid.Make().String()

		ctx := logging.WithRequestID(r.Context(), requestID)
		ctx, span := tracer.Start(ctx, "http.request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		w.Header().Set(RequestIDHeader, requestID)
		sw := &statusWriter{ResponseWriter: w}
		req := r.WithContext(ctx)

		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.ErrorContext(ctx, "panic serving request", "panic", fmt.Sprint(rec))
				if sw.status == 0 {
					writeJSON(sw, a.logger, http.StatusInternalServerError, ErrorResponse{Error: ErrorDetail{
						Code:    CodeInternal,
						Message: internalMessage,
					}})
				}
			}

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			route := routeOf(req)
			elapsed := time.Since(start)

			span.SetName(route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", status),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			a.recorder.RecordRequest(route, r.Method, status, elapsed)
			a.logger.InfoContext(ctx, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", status,
				"duration_ms", elapsed.Milliseconds(),
			)
		}()

		next.ServeHTTP(sw, req)
	})
}

// routeOf returns the path of the pattern that matched req, without its
// method prefix.
func routeOf(req *http.Request) string {
	if req.Pattern == "" {
		return unmatchedRoute
	}
	if _, path, ok := strings.Cut(req.Pattern, " "); ok {
		return path
	}
	return req.Pattern
}
