package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const identityContextKey contextKey = "request_identity"

// requestIdentity is filled in by AuthMiddleware, which runs inside the
// access log, so the log line can name the caller.
type requestIdentity struct {
	userID   string
	role     string
	tenantID string
}

func recordIdentity(ctx context.Context, userID, role, tenantID string) {
	if id, ok := ctx.Value(identityContextKey).(*requestIdentity); ok {
		id.userID, id.role, id.tenantID = userID, role, tenantID
	}
}

// LoggingMiddleware emits one access log line per request with the trace id,
// the matched route and, on authenticated routes, the operator and tenant.
// 5xx answers are logged at error level.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := &requestIdentity{}
			r = r.WithContext(context.WithValue(r.Context(), identityContextKey, id))
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", routePattern(r)),
				zap.Int("status", rw.status),
				zap.Int("bytes", rw.bytes),
				zap.String("trace_id", TraceIDFromContext(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			}
			if id.userID != "" {
				fields = append(fields, zap.String("user_id", id.userID), zap.String("role", id.role))
			}
			if id.tenantID != "" {
				fields = append(fields, zap.String("tenant_id", id.tenantID))
			}
			level := zapcore.InfoLevel
			if rw.status >= http.StatusInternalServerError {
				level = zapcore.ErrorLevel
			}
			logger.Log(level, "http_request", fields...)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}
