package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/smap-gateway/internal/model"
)

// WriteEnvelope は標準エンベロープ形式でJSONレスポンスを書き込む。
// Sourceが設定されている場合はX-Data-Sourceヘッダーも付与する。
func WriteEnvelope(w http.ResponseWriter, statusCode int, env model.Envelope) {
	if env.Source != "" {
		w.Header().Set(model.DataSourceHeader, string(env.Source))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteError はAPIErrorを統一エラーフォーマットで書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteError(w http.ResponseWriter, apiErr *model.APIError) {
	if apiErr == nil {
		apiErr = model.NewInternalError()
	}
	WriteEnvelope(w, apiErr.Status, model.Envelope{
		Success: false,
		Message: apiErr.Message,
		Error:   apiErr.Code,
		Field:   apiErr.Field,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteError(w, model.NewInternalError())
}
