package model

import (
	"encoding/json"
	"fmt"
)

// BackendSchedule はバックエンドが返すグループ予定レコード。
type BackendSchedule struct {
	SstIdx           int64    `json:"sst_idx"`
	SgtIdx           int64    `json:"sgt_idx"`
	MtIdx            int64    `json:"mt_idx"`
	SstTitle         string   `json:"sst_title"`
	SstSdate         string   `json:"sst_sdate"`
	SstEdate         string   `json:"sst_edate"`
	SstAllDay        string   `json:"sst_all_day"`
	SstMemo          string   `json:"sst_memo"`
	SstLocationTitle string   `json:"sst_location_title"`
	SstLocationLat   *float64 `json:"sst_location_lat"`
	SstLocationLong  *float64 `json:"sst_location_long"`
	SstShow          string   `json:"sst_show"`
}

// Schedule はクライアントに返す予定情報。
type Schedule struct {
	SstIdx    int64     `json:"sst_idx"`
	GroupIdx  int64     `json:"sgt_idx"`
	MemberIdx int64     `json:"mt_idx"`
	Title     string    `json:"sst_title"`
	StartDate string    `json:"sst_sdate"`
	EndDate   string    `json:"sst_edate"`
	AllDay    bool      `json:"all_day"`
	Memo      string    `json:"sst_memo"`
	Location  *Location `json:"location,omitempty"`
}

// Location は予定の場所情報。
type Location struct {
	Title string  `json:"title"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

// ToSchedule はバックエンドの予定レコードをクライアント向けに変換する。
func ToSchedule(b BackendSchedule) Schedule {
	s := Schedule{
		SstIdx:    b.SstIdx,
		GroupIdx:  b.SgtIdx,
		MemberIdx: b.MtIdx,
		Title:     b.SstTitle,
		StartDate: b.SstSdate,
		EndDate:   b.SstEdate,
		AllDay:    b.SstAllDay == "Y",
		Memo:      b.SstMemo,
	}
	if b.SstLocationLat != nil && b.SstLocationLong != nil {
		s.Location = &Location{
			Title: b.SstLocationTitle,
			Lat:   *b.SstLocationLat,
			Lng:   *b.SstLocationLong,
		}
	}
	return s
}

// ToVisibleSchedules は非表示の予定を除いてクライアント向けに変換する。
func ToVisibleSchedules(list []BackendSchedule) []Schedule {
	out := make([]Schedule, 0, len(list))
	for _, b := range list {
		if b.SstShow == ShowHidden {
			continue
		}
		out = append(out, ToSchedule(b))
	}
	return out
}

// DecodeBackendSchedule はdata部分から単一の予定を取り出す。
func DecodeBackendSchedule(raw json.RawMessage) (BackendSchedule, error) {
	var s BackendSchedule
	if err := json.Unmarshal(raw, &s); err != nil {
		return BackendSchedule{}, fmt.Errorf("failed to decode schedule: %w", err)
	}
	return s, nil
}

// DecodeBackendSchedules はdata部分から予定一覧を取り出す。
func DecodeBackendSchedules(raw json.RawMessage) ([]BackendSchedule, error) {
	if len(raw) == 0 {
		return []BackendSchedule{}, nil
	}
	var list []BackendSchedule
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Schedules []BackendSchedule `json:"schedules"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode schedules: %w", err)
	}
	if wrapped.Schedules == nil {
		return []BackendSchedule{}, nil
	}
	return wrapped.Schedules, nil
}

// ScheduleList は予定一覧レスポンスのdata部分。
type ScheduleList struct {
	GroupIdx  int64      `json:"sgt_idx"`
	Schedules []Schedule `json:"schedules"`
	Total     int        `json:"total"`
}

// CreateScheduleRequest は予定作成リクエスト。日時は"2006-01-02 15:04:05"形式。
type CreateScheduleRequest struct {
	SstTitle         string   `json:"sst_title" validate:"required,max=100"`
	SstSdate         string   `json:"sst_sdate" validate:"required,datetime=2006-01-02 15:04:05"`
	SstEdate         string   `json:"sst_edate" validate:"required,datetime=2006-01-02 15:04:05"`
	SstAllDay        string   `json:"sst_all_day" validate:"omitempty,oneof=Y N"`
	SstMemo          string   `json:"sst_memo" validate:"omitempty,max=500"`
	SstLocationTitle string   `json:"sst_location_title" validate:"omitempty,max=100"`
	SstLocationLat   *float64 `json:"sst_location_lat" validate:"omitempty,latitude"`
	SstLocationLong  *float64 `json:"sst_location_long" validate:"omitempty,longitude"`
	TargetMemberIdx  int64    `json:"target_mt_idx" validate:"omitempty,gt=0"`
}

// BackendScheduleWrite は予定作成時にバックエンドへ送るボディ。
type BackendScheduleWrite struct {
	SgtIdx           int64    `json:"sgt_idx"`
	MtIdx            int64    `json:"mt_idx"`
	SstTitle         string   `json:"sst_title"`
	SstSdate         string   `json:"sst_sdate"`
	SstEdate         string   `json:"sst_edate"`
	SstAllDay        string   `json:"sst_all_day"`
	SstMemo          string   `json:"sst_memo,omitempty"`
	SstLocationTitle string   `json:"sst_location_title,omitempty"`
	SstLocationLat   *float64 `json:"sst_location_lat,omitempty"`
	SstLocationLong  *float64 `json:"sst_location_long,omitempty"`
}
