package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/degrade"
	"github.com/hitoshi/smap-gateway/internal/kvstore"
	"github.com/hitoshi/smap-gateway/internal/metrics"
	"github.com/hitoshi/smap-gateway/internal/middleware"
	"github.com/hitoshi/smap-gateway/internal/model"
	"github.com/hitoshi/smap-gateway/internal/upstream"
)

// mockSender はupstream.Senderのモック。
type mockSender struct {
	sendFn func(ctx context.Context, d upstream.Descriptor) upstream.Outcome
	calls  int
	last   upstream.Descriptor
}

func (m *mockSender) Send(ctx context.Context, d upstream.Descriptor) upstream.Outcome {
	m.calls++
	m.last = d
	return m.sendFn(ctx, d)
}

func sendReturns(out upstream.Outcome) *mockSender {
	return &mockSender{
		sendFn: func(context.Context, upstream.Descriptor) upstream.Outcome { return out },
	}
}

// mockCookies はSessionCookiesのモック。
type mockCookies struct {
	issued []string
}

func (m *mockCookies) Issue(w http.ResponseWriter, token string, expiresAt time.Time) {
	m.issued = append(m.issued, token)
}

func (m *mockCookies) Clear(w http.ResponseWriter) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, sender upstream.Sender) (*Pipeline, *kvstore.MemoryStore, *mockCookies) {
	t.Helper()
	store := kvstore.NewMemoryStore(time.Minute)
	t.Cleanup(store.Stop)
	cookies := &mockCookies{}
	sub := degrade.NewSubstituter(store, time.Hour, metrics.NopCollector{}, discardLogger())
	return NewPipeline(sender, sub, cookies, discardLogger()), store, cookies
}

func successOutcome(body string) upstream.Outcome {
	return upstream.Outcome{Kind: upstream.KindSuccess, Status: http.StatusOK, Body: []byte(body)}
}

// testRoute はテスト用のRouteを返す。
func testRoute(s degrade.Sensitivity) Route {
	return Route{
		Name:        "test.route",
		Sensitivity: s,
		RequireAuth: true,
		Build: func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
			return upstream.Descriptor{Method: http.MethodGet, Path: "/api/v1/test"}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			raw, err := out.Data()
			if err != nil {
				return Shaped{}, err
			}
			return Shaped{Data: raw}, nil
		},
		Mock: func(r *http.Request, _ *auth.Identity) any {
			return map[string]string{"kind": "mock"}
		},
	}
}

func authedRequest(memberID int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	identity := &auth.Identity{
		Claims: &auth.Claims{MtIdx: memberID},
		Token:  "header.payload.signature",
		Source: auth.SourceCookie,
	}
	return req.WithContext(middleware.ContextWithIdentity(req.Context(), identity))
}

func TestPipeline_RequireAuth_Anonymous(t *testing.T) {
	sender := sendReturns(successOutcome(`{}`))
	p, _, _ := newTestPipeline(t, sender)

	rec := httptest.NewRecorder()
	p.Handle(testRoute(degrade.Critical))(rec, httptest.NewRequest(http.MethodGet, "/api/test", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if sender.calls != 0 {
		t.Errorf("expected no upstream call, got %d", sender.calls)
	}
}

func TestPipeline_BuildError_SkipsUpstream(t *testing.T) {
	sender := sendReturns(successOutcome(`{}`))
	p, _, _ := newTestPipeline(t, sender)
	route := testRoute(degrade.BestEffort)
	route.Build = func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
		return upstream.Descriptor{}, model.NewValidationError("date", "bad date")
	}

	rec := httptest.NewRecorder()
	p.Handle(route)(rec, authedRequest(1))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if sender.calls != 0 {
		t.Errorf("expected no upstream call, got %d", sender.calls)
	}
}

func TestPipeline_ForwardsIdentityToken(t *testing.T) {
	sender := sendReturns(successOutcome(`{}`))
	p, _, _ := newTestPipeline(t, sender)

	rec := httptest.NewRecorder()
	p.Handle(testRoute(degrade.Critical))(rec, authedRequest(1))

	if got := sender.last.Header.Get("Authorization"); got != "Bearer header.payload.signature" {
		t.Errorf("expected bearer token forwarded, got %q", got)
	}
}

func TestPipeline_Critical_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		out        upstream.Outcome
		wantStatus int
		wantCode   string
	}{
		{
			name:       "transport failure",
			out:        upstream.Outcome{Kind: upstream.KindTransportFailure, Reason: upstream.ReasonConnection, Err: errors.New("refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   model.ErrCodeServiceUnavailable,
		},
		{
			name:       "invalid body",
			out:        upstream.Outcome{Kind: upstream.KindTransportFailure, Reason: upstream.ReasonInvalidBody},
			wantStatus: http.StatusBadGateway,
			wantCode:   model.ErrCodeServiceUnavailable,
		},
		{
			name:       "upstream error",
			out:        upstream.Outcome{Kind: upstream.KindUpstreamError, Status: http.StatusConflict, Message: "already exists"},
			wantStatus: http.StatusConflict,
			wantCode:   model.ErrCodeUpstream,
		},
		{
			name:       "rejected success",
			out:        successOutcome(`{"success":false,"message":"nope"}`),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, _ := newTestPipeline(t, sendReturns(tt.out))

			rec := httptest.NewRecorder()
			p.Handle(testRoute(degrade.Critical))(rec, authedRequest(1))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if got := decodeEnvelope(t, rec).Error; got != tt.wantCode {
				t.Errorf("expected error %q, got %q", tt.wantCode, got)
			}
			if store.Len() != 0 {
				t.Error("expected no snapshot for failed call")
			}
		})
	}
}

func TestPipeline_BestEffort_RemembersAndSubstitutes(t *testing.T) {
	sender := sendReturns(successOutcome(`{"success":true,"data":{"value":42}}`))
	p, store, _ := newTestPipeline(t, sender)
	route := testRoute(degrade.BestEffort)

	rec := httptest.NewRecorder()
	p.Handle(route)(rec, authedRequest(1))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one snapshot, got %d", store.Len())
	}

	sender.sendFn = func(context.Context, upstream.Descriptor) upstream.Outcome {
		return upstream.Outcome{Kind: upstream.KindTransportFailure, Reason: upstream.ReasonTimeout}
	}

	rec = httptest.NewRecorder()
	p.Handle(route)(rec, authedRequest(1))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Source != string(model.SourceCache) {
		t.Errorf("expected source cache, got %q", resp.Source)
	}
	var data map[string]int
	decodeData(t, resp, &data)
	if data["value"] != 42 {
		t.Errorf("expected cached value 42, got %v", data)
	}

	// 別の会員にはスナップショットを返さない
	rec = httptest.NewRecorder()
	p.Handle(route)(rec, authedRequest(2))
	if got := decodeEnvelope(t, rec).Source; got != string(model.SourceMock) {
		t.Errorf("expected source mock for another member, got %q", got)
	}
}

func TestPipeline_ShapeError(t *testing.T) {
	failing := func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
		return Shaped{}, errors.New("unexpected payload")
	}

	t.Run("critical returns 502", func(t *testing.T) {
		p, _, _ := newTestPipeline(t, sendReturns(successOutcome(`{}`)))
		route := testRoute(degrade.Critical)
		route.Shape = failing

		rec := httptest.NewRecorder()
		p.Handle(route)(rec, authedRequest(1))

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rec.Code)
		}
	})

	t.Run("best effort substitutes", func(t *testing.T) {
		p, store, _ := newTestPipeline(t, sendReturns(successOutcome(`{}`)))
		route := testRoute(degrade.BestEffort)
		route.Shape = failing

		rec := httptest.NewRecorder()
		p.Handle(route)(rec, authedRequest(1))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if got := decodeEnvelope(t, rec).Source; got != string(model.SourceMock) {
			t.Errorf("expected source mock, got %q", got)
		}
		if store.Len() != 0 {
			t.Error("expected no snapshot for unshaped response")
		}
	})

	t.Run("api error is written as is", func(t *testing.T) {
		p, _, _ := newTestPipeline(t, sendReturns(successOutcome(`{}`)))
		route := testRoute(degrade.BestEffort)
		route.Shape = func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			return Shaped{}, model.NewNotFoundError()
		}

		rec := httptest.NewRecorder()
		p.Handle(route)(rec, authedRequest(1))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rec.Code)
		}
	})
}

func TestPipeline_IssuesSessionCookie(t *testing.T) {
	p, _, cookies := newTestPipeline(t, sendReturns(successOutcome(`{}`)))
	route := testRoute(degrade.Critical)
	route.RequireAuth = false
	route.Shape = func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
		return Shaped{
			Status:  http.StatusCreated,
			Session: &Session{Token: "new.session.token", ExpiresAt: time.Now().Add(time.Hour)},
		}, nil
	}

	rec := httptest.NewRecorder()
	p.Handle(route)(rec, httptest.NewRequest(http.MethodPost, "/api/test", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if len(cookies.issued) != 1 || cookies.issued[0] != "new.session.token" {
		t.Errorf("expected session cookie to be issued, got %v", cookies.issued)
	}
}

func TestRejectedAsError(t *testing.T) {
	tests := []struct {
		name       string
		out        upstream.Outcome
		status     int
		wantKind   upstream.Kind
		wantStatus int
	}{
		{name: "empty body", out: upstream.Outcome{Kind: upstream.KindSuccess, Status: 204, Empty: true}, wantKind: upstream.KindSuccess, wantStatus: 204},
		{name: "success true", out: successOutcome(`{"success":true}`), wantKind: upstream.KindSuccess, wantStatus: 200},
		{name: "no success field", out: successOutcome(`[1,2]`), wantKind: upstream.KindSuccess, wantStatus: 200},
		{name: "success false default", out: successOutcome(`{"success":false}`), wantKind: upstream.KindUpstreamError, wantStatus: 400},
		{name: "success false login", out: successOutcome(`{"success":false}`), status: 401, wantKind: upstream.KindUpstreamError, wantStatus: 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rejectedAsError(tt.out, tt.status)
			if got.Kind != tt.wantKind {
				t.Errorf("expected kind %v, got %v", tt.wantKind, got.Kind)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, got.Status)
			}
		})
	}
}
