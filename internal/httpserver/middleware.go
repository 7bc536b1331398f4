package httpserver

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// recoverer turns a handler panic into a 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContextOr(r.Context(), s.logger).Error("Recovered from handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				utils.WriteJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestContext stamps the request with its id, the tenant and a scoped logger.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := tenant.WithRequestID(r.Context(), requestID)
		ctx = tenant.WithCompanyID(ctx, s.companyID)
		ctx = logger.WithLogger(ctx, s.logger.With(
			zap.String("request_id", requestID),
			zap.String("company_id", s.companyID),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog logs every request and records its duration under the route template.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		observer.ObserveHTTPRequest(route, r.Method, rec.status, duration)

		log := logger.FromContextOr(r.Context(), s.logger)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
		}
		if rec.status >= http.StatusInternalServerError {
			log.Warn("HTTP request failed", fields...)
			return
		}
		log.Debug("HTTP request", fields...)
	})
}
