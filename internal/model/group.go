package model

import (
	"encoding/json"
	"fmt"
)

// 表示フラグ。グループの削除は常にsgt_show='N'による非表示で行う。
const (
	ShowVisible = "Y"
	ShowHidden  = "N"
)

// BackendGroup はバックエンドが返すグループレコード。
type BackendGroup struct {
	SgtIdx      int64  `json:"sgt_idx"`
	MtIdx       int64  `json:"mt_idx"`
	SgtTitle    string `json:"sgt_title"`
	SgtCode     string `json:"sgt_code"`
	SgtMemo     string `json:"sgt_memo"`
	SgtShow     string `json:"sgt_show"`
	SgtWdate    string `json:"sgt_wdate"`
	SgtUdate    string `json:"sgt_udate"`
	MemberCount int    `json:"member_count"`
}

// Group はクライアントに返すグループ情報。
type Group struct {
	SgtIdx      int64  `json:"sgt_idx"`
	OwnerIdx    int64  `json:"mt_idx"`
	SgtTitle    string `json:"sgt_title"`
	SgtCode     string `json:"sgt_code"`
	SgtMemo     string `json:"sgt_memo"`
	SgtShow     string `json:"sgt_show"`
	MemberCount int    `json:"member_count"`
	CreatedAt   string `json:"sgt_wdate"`
	UpdatedAt   string `json:"sgt_udate"`
}

// ToGroup はバックエンドのグループレコードをクライアント向けに変換する。
// sgt_showが空の場合は表示中として扱う。
func ToGroup(b BackendGroup) Group {
	show := b.SgtShow
	if show != ShowHidden {
		show = ShowVisible
	}
	return Group{
		SgtIdx:      b.SgtIdx,
		OwnerIdx:    b.MtIdx,
		SgtTitle:    b.SgtTitle,
		SgtCode:     b.SgtCode,
		SgtMemo:     b.SgtMemo,
		SgtShow:     show,
		MemberCount: b.MemberCount,
		CreatedAt:   b.SgtWdate,
		UpdatedAt:   b.SgtUdate,
	}
}

// DecodeBackendGroup はdata部分から単一のグループを取り出す。
func DecodeBackendGroup(raw json.RawMessage) (BackendGroup, error) {
	var g BackendGroup
	if err := json.Unmarshal(raw, &g); err != nil {
		return BackendGroup{}, fmt.Errorf("failed to decode group: %w", err)
	}
	return g, nil
}

// DecodeBackendGroups はdata部分からグループ一覧を取り出す。
// 配列そのものと{"groups": [...]}形式の両方を受け付ける。
func DecodeBackendGroups(raw json.RawMessage) ([]BackendGroup, error) {
	if len(raw) == 0 {
		return []BackendGroup{}, nil
	}
	var list []BackendGroup
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Groups []BackendGroup `json:"groups"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode groups: %w", err)
	}
	if wrapped.Groups == nil {
		return []BackendGroup{}, nil
	}
	return wrapped.Groups, nil
}

// ToVisibleGroups は非表示のグループを除いてクライアント向けに変換する。
func ToVisibleGroups(list []BackendGroup) []Group {
	groups := make([]Group, 0, len(list))
	for _, b := range list {
		g := ToGroup(b)
		if g.SgtShow == ShowHidden {
			continue
		}
		groups = append(groups, g)
	}
	return groups
}

// GroupList はグループ一覧レスポンスのdata部分。
type GroupList struct {
	Groups []Group `json:"groups"`
	Total  int     `json:"total"`
}

// CreateGroupRequest はグループ作成リクエスト。
type CreateGroupRequest struct {
	SgtTitle string `json:"sgt_title" validate:"required,max=50"`
	SgtMemo  string `json:"sgt_memo" validate:"omitempty,max=500"`
}

// UpdateGroupRequest はグループ更新リクエスト。nilの項目は変更しない。
type UpdateGroupRequest struct {
	SgtTitle *string `json:"sgt_title,omitempty" validate:"omitempty,min=1,max=50"`
	SgtMemo  *string `json:"sgt_memo,omitempty" validate:"omitempty,max=500"`
	SgtShow  *string `json:"sgt_show,omitempty" validate:"omitempty,oneof=Y N"`
}

// Empty は変更項目が一つもないかを返す。
func (r UpdateGroupRequest) Empty() bool {
	return r.SgtTitle == nil && r.SgtMemo == nil && r.SgtShow == nil
}

// BackendGroupWrite はグループ作成・更新時にバックエンドへ送るボディ。
type BackendGroupWrite struct {
	MtIdx    int64   `json:"mt_idx,omitempty"`
	SgtTitle *string `json:"sgt_title,omitempty"`
	SgtMemo  *string `json:"sgt_memo,omitempty"`
	SgtShow  *string `json:"sgt_show,omitempty"`
}
