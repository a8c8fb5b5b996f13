package log

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGlobalLoggerSupportsChainedCalls(t *testing.T) {
	// Level methods have pointer receivers, so these chains only work
	// while L and Ctx return addressable loggers.
	L().Info().Str("k", "v").Msg("chained call on global logger")
	Ctx(context.Background()).Debug().Msg("chained call on context fallback")

	child := New(Config{Level: "debug", ServiceName: "test"})
	Ctx(WithLogger(context.Background(), child)).Info().Msg("chained call on context logger")
}

func TestHTTPMiddlewareSetsRequestID(t *testing.T) {
	h := HTTPMiddleware(L())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Ctx(r.Context()) == nil {
			t.Error("request context must carry a logger")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("middleware must stamp a request id header")
	}
}

func TestHTTPMiddlewareKeepsClientRequestID(t *testing.T) {
	h := HTTPMiddleware(L())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(headerRequestID); got != "req-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}
