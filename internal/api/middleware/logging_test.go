package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedRouter(t *testing.T) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	SetJWTSecret("logging-test-secret")
	SetJWTValidation("", "")

	core, logs := observer.New(zapcore.InfoLevel)
	r := chi.NewRouter()
	r.Use(TraceMiddleware)
	r.Use(LoggingMiddleware(zap.New(core)))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware)
		r.Get("/v1/transactions/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/v1/boom", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
	})
	return r, logs
}

func TestLoggingMiddlewareRecordsCaller(t *testing.T) {
	router, logs := newLoggedRouter(t)
	token, _, err := IssueToken("user-1", "iao", "tenant-1", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Trace-ID", "trace-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "user-1", fields["user_id"])
	assert.Equal(t, "iao", fields["role"])
	assert.Equal(t, "tenant-1", fields["tenant_id"])
	assert.Equal(t, "/v1/transactions/{id}", fields["route"])
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.EqualValues(t, http.StatusNoContent, fields["status"])
}

func TestLoggingMiddlewareAnonymousAndServerErrors(t *testing.T) {
	router, logs := newLoggedRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.NotContains(t, fields, "user_id")
	assert.NotContains(t, fields, "tenant_id")
	assert.EqualValues(t, 2, fields["bytes"])
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	token, _, err := IssueToken("admin-1", "admin", "", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/boom", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	entries = logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields = entries[0].ContextMap()
	assert.Equal(t, "admin-1", fields["user_id"])
	assert.NotContains(t, fields, "tenant_id")
}

func TestRecoverMiddlewareNamesCaller(t *testing.T) {
	SetJWTSecret("logging-test-secret")
	SetJWTValidation("", "")
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	r := chi.NewRouter()
	r.Use(TraceMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoverMiddleware(logger))
	r.With(AuthMiddleware).Get("/v1/panic", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	token, _, err := IssueToken("user-7", "iao", "tenant-7", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/panic", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	panics := logs.FilterMessage("panic recovered").All()
	require.Len(t, panics, 1)
	fields := panics[0].ContextMap()
	assert.Equal(t, "user-7", fields["user_id"])
	assert.Equal(t, "tenant-7", fields["tenant_id"])

	access := logs.FilterMessage("http_request").All()
	require.Len(t, access, 1)
	assert.Equal(t, zapcore.ErrorLevel, access[0].Level)
}
