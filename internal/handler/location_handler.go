package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/degrade"
	"github.com/hitoshi/smap-gateway/internal/fallback"
	"github.com/hitoshi/smap-gateway/internal/model"
	"github.com/hitoshi/smap-gateway/internal/upstream"
	"github.com/hitoshi/smap-gateway/internal/validation"
)

// 日付の既定値はサービス地域（韓国）の日付で決める。
var serviceZone = time.FixedZone("KST", 9*60*60)

// LocationHandler は位置ログのHTTPハンドラー。
type LocationHandler struct {
	now func() time.Time
}

// NewLocationHandler はLocationHandlerを生成する。
func NewLocationHandler() *LocationHandler {
	return &LocationHandler{now: time.Now}
}

// locationQuery は位置ログ取得のパラメータ。
type locationQuery struct {
	MemberID int64  `json:"memberId" validate:"gt=0"`
	Date     string `json:"date" validate:"datetime=2006-01-02"`
}

// SummaryRoute は1日分の位置ログ要約を宣言する。
// GET /api/location-logs/summary/{memberId}?date=YYYY-MM-DD
func (h *LocationHandler) SummaryRoute() Route {
	return Route{
		Name:        "location.summary",
		Sensitivity: degrade.BestEffort,
		RequireAuth: true,
		Build:       h.build("summary"),
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			q, _ := h.query(r)
			raw, err := out.Data()
			if err != nil {
				return Shaped{}, err
			}
			summary, err := model.DecodeBackendLocationSummary(raw)
			if err != nil {
				return Shaped{}, err
			}
			return Shaped{Data: model.ToLocationSummary(q.MemberID, q.Date, summary)}, nil
		},
		Mock: func(r *http.Request, _ *auth.Identity) any {
			q, _ := h.query(r)
			return fallback.LocationSummary(q.MemberID, q.Date)
		},
	}
}

// DailyRoute は1日分の位置ログを宣言する。
// GET /api/location-logs/daily/{memberId}?date=YYYY-MM-DD
func (h *LocationHandler) DailyRoute() Route {
	return Route{
		Name:        "location.daily",
		Sensitivity: degrade.BestEffort,
		RequireAuth: true,
		Build:       h.build("daily"),
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			q, _ := h.query(r)
			raw, err := out.Data()
			if err != nil {
				return Shaped{}, err
			}
			logs, err := model.DecodeBackendLocationLogs(raw)
			if err != nil {
				return Shaped{}, err
			}
			return Shaped{Data: model.ToDailyLocationLogs(q.MemberID, q.Date, logs)}, nil
		},
		Mock: func(r *http.Request, _ *auth.Identity) any {
			q, _ := h.query(r)
			return fallback.DailyLocationLogs(q.MemberID, q.Date)
		},
	}
}

func (h *LocationHandler) build(kind string) BuildFunc {
	return func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
		q, apiErr := h.query(r)
		if apiErr != nil {
			return upstream.Descriptor{}, apiErr
		}
		return upstream.Descriptor{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/api/v1/logs/member-location-logs/%d/%s", q.MemberID, kind),
			Query:  url.Values{"date": {q.Date}},
		}, nil
	}
}

// query はパスとクエリから取得対象の会員と日付を取り出す。日付の省略時は当日。
func (h *LocationHandler) query(r *http.Request) (locationQuery, *model.APIError) {
	id, apiErr := pathID(r, "memberId", "memberId")
	if apiErr != nil {
		return locationQuery{}, apiErr
	}
	q := locationQuery{
		MemberID: id,
		Date:     r.URL.Query().Get("date"),
	}
	if q.Date == "" {
		q.Date = h.now().In(serviceZone).Format("2006-01-02")
	}
	if apiErr := validation.Struct(q); apiErr != nil {
		return locationQuery{}, apiErr
	}
	return q, nil
}
