package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		hsts     bool
		wantHSTS string
	}{
		{name: "plain http", hsts: false, wantHSTS: ""},
		{name: "https", hsts: true, wantHSTS: "max-age=31536000; includeSubDomains"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSecurityHeadersMiddleware(tt.hsts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil))

			h := w.Result().Header
			want := map[string]string{
				"X-Content-Type-Options":    "nosniff",
				"X-Frame-Options":           "DENY",
				"Cache-Control":             "no-store",
				"Content-Security-Policy":   apiContentSecurityPolicy,
				"Strict-Transport-Security": tt.wantHSTS,
			}
			for key, v := range want {
				if got := h.Get(key); got != v {
					t.Errorf("%s = %q, want %q", key, got, v)
				}
			}
		})
	}
}
