package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/degrade"
	"github.com/hitoshi/smap-gateway/internal/fallback"
	"github.com/hitoshi/smap-gateway/internal/model"
	"github.com/hitoshi/smap-gateway/internal/security"
	"github.com/hitoshi/smap-gateway/internal/upstream"
)

const scheduleTimeLayout = "2006-01-02 15:04:05"

// ScheduleHandler はグループ予定のHTTPハンドラー。
type ScheduleHandler struct {
	sanitizer security.TextSanitizerService
}

// NewScheduleHandler はScheduleHandlerを生成する。
func NewScheduleHandler(sanitizer security.TextSanitizerService) *ScheduleHandler {
	return &ScheduleHandler{sanitizer: sanitizer}
}

// ListRoute はグループの予定一覧を宣言する。
// GET /api/schedule/group/{id}/schedules
func (h *ScheduleHandler) ListRoute() Route {
	return Route{
		Name:        "schedules.list",
		Sensitivity: degrade.BestEffort,
		RequireAuth: true,
		Build: func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
			id, apiErr := pathID(r, "id", "sgt_idx")
			if apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			return upstream.Descriptor{
				Method: http.MethodGet,
				Path:   fmt.Sprintf("/api/v1/schedule/group/%d/schedules", id),
				Query:  r.URL.Query(),
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			id, _ := pathID(r, "id", "sgt_idx")
			raw, err := out.Data()
			if err != nil {
				return Shaped{}, err
			}
			list, err := model.DecodeBackendSchedules(raw)
			if err != nil {
				return Shaped{}, err
			}
			schedules := model.ToVisibleSchedules(list)
			return Shaped{Data: model.ScheduleList{
				GroupIdx:  id,
				Schedules: schedules,
				Total:     len(schedules),
			}}, nil
		},
		Mock: func(r *http.Request, _ *auth.Identity) any {
			id, _ := pathID(r, "id", "sgt_idx")
			return fallback.Schedules(id)
		},
	}
}

// CreateRoute はグループ予定の作成を宣言する。
// target_mt_idxを省略した場合はログイン中の会員の予定として作成する。
// POST /api/schedule/group/{id}/schedules
func (h *ScheduleHandler) CreateRoute() Route {
	return Route{
		Name:        "schedules.create",
		Sensitivity: degrade.Critical,
		RequireAuth: true,
		Build: func(r *http.Request, identity *auth.Identity) (upstream.Descriptor, *model.APIError) {
			id, apiErr := pathID(r, "id", "sgt_idx")
			if apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			var req model.CreateScheduleRequest
			if apiErr := decodeJSON(r, &req); apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}

			start, _ := time.Parse(scheduleTimeLayout, req.SstSdate)
			end, _ := time.Parse(scheduleTimeLayout, req.SstEdate)
			if end.Before(start) {
				return upstream.Descriptor{}, model.NewValidationError("sst_edate", "종료 일시는 시작 일시 이후여야 합니다.")
			}
			if (req.SstLocationLat == nil) != (req.SstLocationLong == nil) {
				return upstream.Descriptor{}, model.NewValidationError("sst_location_lat", "위치 좌표는 위도와 경도를 함께 입력해야 합니다.")
			}

			title := h.sanitizer.Sanitize(req.SstTitle)
			if title == "" {
				return upstream.Descriptor{}, model.NewValidationError("sst_title", "sst_title 항목은 필수입니다.")
			}
			allDay := req.SstAllDay
			if allDay == "" {
				allDay = "N"
			}
			memberID := req.TargetMemberIdx
			if memberID == 0 {
				memberID = identity.MemberID()
			}

			return upstream.Descriptor{
				Method: http.MethodPost,
				Path:   fmt.Sprintf("/api/v1/schedule/group/%d/schedules", id),
				Body: model.BackendScheduleWrite{
					SgtIdx:           id,
					MtIdx:            memberID,
					SstTitle:         title,
					SstSdate:         req.SstSdate,
					SstEdate:         req.SstEdate,
					SstAllDay:        allDay,
					SstMemo:          h.sanitizer.Sanitize(req.SstMemo),
					SstLocationTitle: h.sanitizer.Sanitize(req.SstLocationTitle),
					SstLocationLat:   req.SstLocationLat,
					SstLocationLong:  req.SstLocationLong,
				},
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			shaped := Shaped{Status: http.StatusCreated, Message: "일정이 등록되었습니다."}
			raw, err := out.Data()
			if err != nil {
				return Shaped{}, err
			}
			if len(raw) == 0 {
				return shaped, nil
			}
			s, err := model.DecodeBackendSchedule(raw)
			if err != nil {
				return Shaped{}, err
			}
			shaped.Data = model.ToSchedule(s)
			return shaped, nil
		},
	}
}
