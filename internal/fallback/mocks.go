// Package fallback はバックエンドに到達できない場合に返す合成データを提供する。
// いずれもクライアント向けスキーマに合致する固定形のデータで、
// レスポンスのデータ元マーカーによって実データと区別される。
package fallback

import (
	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/model"
)

// Profile はトークンのクレームから会員情報を組み立てる。
// バックエンドに到達できなくても、ログイン時点の情報は表示できる。
func Profile(claims *auth.Claims) model.Member {
	if claims == nil {
		return model.Member{}
	}
	return model.Member{
		MtIdx:      claims.MtIdx,
		MtID:       claims.MtID,
		MtName:     claims.MtName,
		MtNickname: claims.MtNickname,
		MtHp:       claims.MtHp,
		MtEmail:    claims.MtEmail,
		MtBirth:    claims.MtBirth,
		MtGender:   claims.MtGender,
		MtType:     claims.MtType,
		MtLevel:    claims.MtLevel,
	}
}

// Groups は空のグループ一覧を返す。
func Groups() model.GroupList {
	return model.GroupList{Groups: []model.Group{}, Total: 0}
}

// Group は指定IDの表示中グループを返す。
func Group(id int64) model.Group {
	return model.Group{
		SgtIdx:  id,
		SgtShow: model.ShowVisible,
	}
}

// LocationSummary はすべての値が0の位置ログ要約を返す。
func LocationSummary(memberID int64, date string) model.LocationSummary {
	return model.ToLocationSummary(memberID, date, model.BackendLocationSummary{})
}

// DailyLocationLogs は点を持たない1日分の位置ログを返す。
func DailyLocationLogs(memberID int64, date string) model.DailyLocationLogs {
	return model.ToDailyLocationLogs(memberID, date, nil)
}

// Schedules は空の予定一覧を返す。
func Schedules(groupID int64) model.ScheduleList {
	return model.ScheduleList{GroupIdx: groupID, Schedules: []model.Schedule{}, Total: 0}
}
