package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// BackendLocationSummary はバックエンドが返す1日分の位置ログ要約。
type BackendLocationSummary struct {
	TotalDistance      float64 `json:"total_distance"`
	TotalTime          float64 `json:"total_time"`
	StepCount          int     `json:"step_count"`
	AverageSpeed       float64 `json:"average_speed"`
	BatteryConsumption float64 `json:"battery_consumption"`
}

// LocationSummary はクライアントに返す位置ログ要約。
// 距離はkm、時間は分、速度はkm/h、バッテリー消費は%。
type LocationSummary struct {
	MemberID           int64   `json:"mt_idx"`
	Date               string  `json:"date"`
	TotalDistance      float64 `json:"total_distance"`
	TotalTime          int     `json:"total_time"`
	StepCount          int     `json:"step_count"`
	AverageSpeed       float64 `json:"average_speed"`
	BatteryConsumption int     `json:"battery_consumption"`
}

// ToLocationSummary はバックエンドの要約をクライアント向けに変換する。
func ToLocationSummary(memberID int64, date string, b BackendLocationSummary) LocationSummary {
	return LocationSummary{
		MemberID:           memberID,
		Date:               date,
		TotalDistance:      round2(b.TotalDistance),
		TotalTime:          int(b.TotalTime),
		StepCount:          b.StepCount,
		AverageSpeed:       round2(b.AverageSpeed),
		BatteryConsumption: int(b.BatteryConsumption),
	}
}

// DecodeBackendLocationSummary はdata部分から要約を取り出す。
func DecodeBackendLocationSummary(raw json.RawMessage) (BackendLocationSummary, error) {
	var s BackendLocationSummary
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return BackendLocationSummary{}, fmt.Errorf("failed to decode location summary: %w", err)
	}
	return s, nil
}

// BackendLocationLog はバックエンドが返す位置ログの1点。
type BackendLocationLog struct {
	MltIdx     int64   `json:"mlt_idx"`
	MtIdx      int64   `json:"mt_idx"`
	MltLat     float64 `json:"mlt_lat"`
	MltLong    float64 `json:"mlt_long"`
	MltSpeed   float64 `json:"mlt_speed"`
	MltBattery int     `json:"mlt_battery"`
	MltGpsTime string  `json:"mlt_gps_time"`
}

// LocationPoint はクライアントに返す位置ログの1点。
type LocationPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Speed   float64 `json:"speed"`
	Battery int     `json:"battery"`
	Time    string  `json:"time"`
}

// DailyLocationLogs は1日分の位置ログレスポンスのdata部分。
type DailyLocationLogs struct {
	MemberID int64           `json:"mt_idx"`
	Date     string          `json:"date"`
	Points   []LocationPoint `json:"points"`
	Count    int             `json:"count"`
}

// ToDailyLocationLogs はバックエンドの位置ログ一覧をクライアント向けに変換する。
// 座標が(0,0)の点はGPS未取得として除外する。
func ToDailyLocationLogs(memberID int64, date string, logs []BackendLocationLog) DailyLocationLogs {
	points := make([]LocationPoint, 0, len(logs))
	for _, l := range logs {
		if l.MltLat == 0 && l.MltLong == 0 {
			continue
		}
		points = append(points, LocationPoint{
			Lat:     l.MltLat,
			Lng:     l.MltLong,
			Speed:   l.MltSpeed,
			Battery: l.MltBattery,
			Time:    l.MltGpsTime,
		})
	}
	return DailyLocationLogs{
		MemberID: memberID,
		Date:     date,
		Points:   points,
		Count:    len(points),
	}
}

// DecodeBackendLocationLogs はdata部分から位置ログ一覧を取り出す。
func DecodeBackendLocationLogs(raw json.RawMessage) ([]BackendLocationLog, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var logs []BackendLocationLog
	if err := json.Unmarshal(raw, &logs); err == nil {
		return logs, nil
	}
	var wrapped struct {
		Logs []BackendLocationLog `json:"logs"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode location logs: %w", err)
	}
	return wrapped.Logs, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
