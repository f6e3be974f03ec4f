// Package model はゲートウェイが扱うドメインモデルとAPIスキーマを定義する。
package model

import (
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// すべてのハンドラーはこの分類のいずれかで終了する。
type APIError struct {
	Status   int    // HTTPステータスコード
	Code     string // エラーコード
	Message  string // ユーザー向けメッセージ（韓国語）
	Category string // カテゴリ: auth, validation, upstream, system
	Field    string // バリデーションエラーの対象フィールド
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeUpstream           = "UPSTREAM_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeNotFound           = "NOT_FOUND"
)

// ServiceUnavailableMessage はバックエンド接続失敗時にユーザーへ表示するメッセージ。
const ServiceUnavailableMessage = "서버 연결에 실패했습니다. 잠시 후 다시 시도해주세요."

// NewUnauthorizedError は認証エラーを生成する。
// 検証に失敗した理由はクライアントに漏らさない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Status:   http.StatusUnauthorized,
		Code:     ErrCodeUnauthorized,
		Message:  "로그인이 필요합니다.",
		Category: "auth",
	}
}

// NewValidationError はフィールド単位のバリデーションエラーを生成する。
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Status:   http.StatusBadRequest,
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Field:    field,
	}
}

// NewUpstreamError はバックエンドが失敗を返した場合のエラーを生成する。
// ステータスとメッセージはバックエンドのものをそのまま使う。
func NewUpstreamError(status int, message string) *APIError {
	if message == "" {
		message = "요청을 처리하지 못했습니다."
	}
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	return &APIError{
		Status:   status,
		Code:     ErrCodeUpstream,
		Message:  message,
		Category: "upstream",
	}
}

// NewServiceUnavailableError はバックエンドへの到達失敗を表すエラーを生成する。
// statusは502または503のみ受け付け、それ以外は503に丸める。
func NewServiceUnavailableError(status int) *APIError {
	if status != http.StatusBadGateway {
		status = http.StatusServiceUnavailable
	}
	return &APIError{
		Status:   status,
		Code:     ErrCodeServiceUnavailable,
		Message:  ServiceUnavailableMessage,
		Category: "upstream",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Status:   http.StatusInternalServerError,
		Code:     ErrCodeInternal,
		Message:  "서버 내부 오류가 발생했습니다.",
		Category: "system",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Status:   http.StatusTooManyRequests,
		Code:     ErrCodeRateLimited,
		Message:  "요청이 너무 많습니다. 잠시 후 다시 시도해주세요.",
		Category: "system",
	}
}

// NewNotFoundError はルート未定義などの404エラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Status:   http.StatusNotFound,
		Code:     ErrCodeNotFound,
		Message:  "요청한 리소스를 찾을 수 없습니다.",
		Category: "validation",
	}
}
