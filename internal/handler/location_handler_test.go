package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/smap-gateway/internal/model"
	"github.com/hitoshi/smap-gateway/internal/upstream"
)

// buildLocation はchiのURLパラメータを解決した上でBuildを呼ぶ。
func buildLocation(t *testing.T, h *LocationHandler, target string) (upstream.Descriptor, *model.APIError) {
	t.Helper()
	var (
		d      upstream.Descriptor
		apiErr *model.APIError
	)
	r := chi.NewRouter()
	r.Get("/api/location-logs/summary/{memberId}", func(w http.ResponseWriter, req *http.Request) {
		d, apiErr = h.build("summary")(req, nil)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	return d, apiErr
}

func TestLocationHandler_DefaultDateUsesServiceZone(t *testing.T) {
	h := NewLocationHandler()
	// UTCでは15日だが、韓国時間では16日
	h.now = func() time.Time { return time.Date(2024, 1, 15, 16, 30, 0, 0, time.UTC) }

	d, apiErr := buildLocation(t, h, "/api/location-logs/summary/3")
	if apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}
	if got := d.Query.Get("date"); got != "2024-01-16" {
		t.Errorf("expected date 2024-01-16, got %q", got)
	}
	if d.Path != "/api/v1/logs/member-location-logs/3/summary" {
		t.Errorf("unexpected path %q", d.Path)
	}
}

func TestLocationHandler_InvalidInput(t *testing.T) {
	h := NewLocationHandler()

	tests := []struct {
		name   string
		target string
		field  string
	}{
		{name: "non numeric member", target: "/api/location-logs/summary/abc", field: "memberId"},
		{name: "zero member", target: "/api/location-logs/summary/0", field: "memberId"},
		{name: "bad date", target: "/api/location-logs/summary/1?date=2024-13-01", field: "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, apiErr := buildLocation(t, h, tt.target)
			if apiErr == nil {
				t.Fatal("expected validation error")
			}
			if apiErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, apiErr.Field)
			}
		})
	}
}
