package model

import (
	"encoding/json"
	"fmt"
)

// DataSource はレスポンスデータの出所を表す。
// 代替データで応答した場合に監視やテストで検出できるようにする。
type DataSource string

const (
	// SourceUpstream はバックエンドの応答をそのまま返したことを示す。
	SourceUpstream DataSource = "upstream"
	// SourceCache は直近の成功レスポンスのスナップショットで代替したことを示す。
	SourceCache DataSource = "cache"
	// SourceMock は固定のモックデータで代替したことを示す。
	SourceMock DataSource = "mock"
)

// DataSourceHeader はデータの出所を示すレスポンスヘッダー名。
const DataSourceHeader = "X-Data-Source"

// Envelope はクライアント向けの標準レスポンス形式。
// HTTPステータスはSuccessと一致させる（BestEffortルートの代替応答のみ例外）。
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   string     `json:"error,omitempty"`
	Field   string     `json:"field,omitempty"`
	Source  DataSource `json:"source,omitempty"`
}

// Substituted は代替データによる応答かどうかを返す。
func (e Envelope) Substituted() bool {
	return e.Source == SourceCache || e.Source == SourceMock
}

// backendEnvelope はバックエンド（FastAPI）が返す共通レスポンス形式。
// ルートによってはラップされていない素のJSONを返す。
type backendEnvelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Detail  json.RawMessage `json:"detail"`
}

// UnwrapBackendData はバックエンドのレスポンスボディからdata部分を取り出す。
// {"success":..,"data":..}形式であればdataを、そうでなければボディ全体を返す。
func UnwrapBackendData(body []byte) (json.RawMessage, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var env backendEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// オブジェクト以外（配列など）はそのまま返す
		if json.Valid(body) {
			return json.RawMessage(body), nil
		}
		return nil, fmt.Errorf("failed to decode backend body: %w", err)
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data, nil
	}
	if env.Success != nil {
		// successのみでdataを持たない応答
		return nil, nil
	}
	return json.RawMessage(body), nil
}

// ExtractBackendMessage はバックエンドのエラーレスポンスからメッセージを取り出す。
// message、FastAPIのdetail（文字列または検証エラー配列）の順に探す。
func ExtractBackendMessage(body []byte) string {
	var env backendEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if env.Message != "" {
		return env.Message
	}
	if len(env.Detail) == 0 {
		return ""
	}

	var detail string
	if err := json.Unmarshal(env.Detail, &detail); err == nil {
		return detail
	}

	var details []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &details); err == nil && len(details) > 0 {
		return details[0].Msg
	}
	return ""
}

// BackendRejected はステータス2xxでもバックエンドが"success":falseを返したかを判定する。
// 拒否されていればバックエンドのメッセージも返す。
func BackendRejected(body []byte) (bool, string) {
	var env backendEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false, ""
	}
	if env.Success == nil || *env.Success {
		return false, ""
	}
	return true, ExtractBackendMessage(body)
}
