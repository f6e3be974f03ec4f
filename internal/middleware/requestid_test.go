package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDMiddleware_GeneratesUUID(t *testing.T) {
	var fromCtx string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	header := w.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("header %q is not a UUID: %v", header, err)
	}
	if fromCtx != header {
		t.Errorf("context id = %q, header = %q", fromCtx, header)
	}
}

func TestRequestIDMiddleware_KeepsValidInboundID(t *testing.T) {
	var fromCtx string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-req_01.a")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if fromCtx != "client-req_01.a" {
		t.Errorf("request id = %q, want inbound id", fromCtx)
	}
}

func TestRequestIDMiddleware_ReplacesMalformedInboundID(t *testing.T) {
	var fromCtx string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if _, err := uuid.Parse(fromCtx); err != nil {
		t.Errorf("malformed inbound id should be replaced, got %q", fromCtx)
	}
}

func TestRequestIDFromContext_NoValue_ReturnsEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := RequestIDFromContext(req.Context()); got != "" {
		t.Errorf("RequestIDFromContext = %q, want empty", got)
	}
}
