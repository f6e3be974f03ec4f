package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/degrade"
	"github.com/hitoshi/smap-gateway/internal/fallback"
	"github.com/hitoshi/smap-gateway/internal/model"
	"github.com/hitoshi/smap-gateway/internal/security"
	"github.com/hitoshi/smap-gateway/internal/upstream"
)

// GroupHandler はグループ管理のHTTPハンドラー。
type GroupHandler struct {
	sanitizer security.TextSanitizerService
}

// NewGroupHandler はGroupHandlerを生成する。
func NewGroupHandler(sanitizer security.TextSanitizerService) *GroupHandler {
	return &GroupHandler{sanitizer: sanitizer}
}

// groupDeleted はグループ削除レスポンスのdata部分。
type groupDeleted struct {
	SgtIdx  int64  `json:"sgt_idx"`
	SgtShow string `json:"sgt_show"`
}

// ListRoute はログイン中の会員が所属するグループ一覧を宣言する。
// GET /api/groups
func (h *GroupHandler) ListRoute() Route {
	return Route{
		Name:        "groups.list",
		Sensitivity: degrade.BestEffort,
		RequireAuth: true,
		Build: func(r *http.Request, identity *auth.Identity) (upstream.Descriptor, *model.APIError) {
			return upstream.Descriptor{
				Method: http.MethodGet,
				Path:   fmt.Sprintf("/api/v1/groups/member/%d", identity.MemberID()),
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			raw, err := out.Data()
			if err != nil {
				return Shaped{}, err
			}
			list, err := model.DecodeBackendGroups(raw)
			if err != nil {
				return Shaped{}, err
			}
			groups := model.ToVisibleGroups(list)
			return Shaped{Data: model.GroupList{Groups: groups, Total: len(groups)}}, nil
		},
		Mock: func(r *http.Request, _ *auth.Identity) any {
			return fallback.Groups()
		},
	}
}

// CreateRoute はグループ作成を宣言する。
// POST /api/groups
func (h *GroupHandler) CreateRoute() Route {
	return Route{
		Name:        "groups.create",
		Sensitivity: degrade.Critical,
		RequireAuth: true,
		Build: func(r *http.Request, identity *auth.Identity) (upstream.Descriptor, *model.APIError) {
			var req model.CreateGroupRequest
			if apiErr := decodeJSON(r, &req); apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			title := h.sanitizer.Sanitize(req.SgtTitle)
			if title == "" {
				return upstream.Descriptor{}, model.NewValidationError("sgt_title", "sgt_title 항목은 필수입니다.")
			}
			memo := h.sanitizer.Sanitize(req.SgtMemo)
			show := model.ShowVisible
			return upstream.Descriptor{
				Method: http.MethodPost,
				Path:   "/api/v1/groups",
				Body: model.BackendGroupWrite{
					MtIdx:    identity.MemberID(),
					SgtTitle: &title,
					SgtMemo:  &memo,
					SgtShow:  &show,
				},
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			shaped := Shaped{Status: http.StatusCreated, Message: "그룹이 생성되었습니다."}
			raw, err := out.Data()
			if err != nil {
				return Shaped{}, err
			}
			if len(raw) == 0 {
				return shaped, nil
			}
			g, err := model.DecodeBackendGroup(raw)
			if err != nil {
				return Shaped{}, err
			}
			shaped.Data = model.ToGroup(g)
			return shaped, nil
		},
	}
}

// GetRoute はグループ詳細を宣言する。
// 削除（非表示）済みのグループもsgt_show='N'のまま返す。一覧からのみ除外する。
// GET /api/groups/{id}
func (h *GroupHandler) GetRoute() Route {
	return Route{
		Name:        "groups.get",
		Sensitivity: degrade.BestEffort,
		RequireAuth: true,
		Build: func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
			id, apiErr := pathID(r, "id", "sgt_idx")
			if apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			return upstream.Descriptor{
				Method: http.MethodGet,
				Path:   fmt.Sprintf("/api/v1/groups/%d", id),
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			raw, err := out.Data()
			if err != nil {
				return Shaped{}, err
			}
			if len(raw) == 0 {
				return Shaped{}, model.NewNotFoundError()
			}
			g, err := model.DecodeBackendGroup(raw)
			if err != nil {
				return Shaped{}, err
			}
			return Shaped{Data: model.ToGroup(g)}, nil
		},
		Mock: func(r *http.Request, _ *auth.Identity) any {
			id, _ := pathID(r, "id", "sgt_idx")
			return fallback.Group(id)
		},
	}
}

// UpdateRoute はグループ更新を宣言する。指定された項目のみ変更する。
// PUT /api/groups/{id}
func (h *GroupHandler) UpdateRoute() Route {
	return Route{
		Name:        "groups.update",
		Sensitivity: degrade.Critical,
		RequireAuth: true,
		Build: func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
			id, apiErr := pathID(r, "id", "sgt_idx")
			if apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			var req model.UpdateGroupRequest
			if apiErr := decodeJSON(r, &req); apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			if req.Empty() {
				return upstream.Descriptor{}, model.NewValidationError("", "변경할 항목이 없습니다.")
			}

			body := model.BackendGroupWrite{
				SgtTitle: security.SanitizePtr(h.sanitizer, req.SgtTitle),
				SgtMemo:  security.SanitizePtr(h.sanitizer, req.SgtMemo),
				SgtShow:  req.SgtShow,
			}
			if body.SgtTitle != nil && *body.SgtTitle == "" {
				return upstream.Descriptor{}, model.NewValidationError("sgt_title", "sgt_title 항목은 필수입니다.")
			}
			return upstream.Descriptor{
				Method: http.MethodPut,
				Path:   fmt.Sprintf("/api/v1/groups/%d", id),
				Body:   body,
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			shaped := Shaped{Message: "그룹이 수정되었습니다."}
			raw, err := out.Data()
			if err != nil {
				return Shaped{}, err
			}
			if len(raw) == 0 {
				return shaped, nil
			}
			g, err := model.DecodeBackendGroup(raw)
			if err != nil {
				return Shaped{}, err
			}
			shaped.Data = model.ToGroup(g)
			return shaped, nil
		},
	}
}

// DeleteRoute はグループ削除を宣言する。
// レコードは削除せず、sgt_show='N'に更新して非表示にする。
// DELETE /api/groups/{id}
func (h *GroupHandler) DeleteRoute() Route {
	return Route{
		Name:        "groups.delete",
		Sensitivity: degrade.Critical,
		RequireAuth: true,
		Build: func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
			id, apiErr := pathID(r, "id", "sgt_idx")
			if apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			hidden := model.ShowHidden
			return upstream.Descriptor{
				Method: http.MethodPut,
				Path:   fmt.Sprintf("/api/v1/groups/%d", id),
				Body:   model.BackendGroupWrite{SgtShow: &hidden},
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			id, _ := pathID(r, "id", "sgt_idx")
			return Shaped{
				Data:    groupDeleted{SgtIdx: id, SgtShow: model.ShowHidden},
				Message: "그룹이 삭제되었습니다.",
			}, nil
		},
	}
}

// pathID はURLパラメータを正の整数として取り出す。
func pathID(r *http.Request, param, field string) (int64, *model.APIError) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError(field, field+" 값이 올바르지 않습니다.")
	}
	return id, nil
}
