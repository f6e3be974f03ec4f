package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを伝播するヘッダー名。
const RequestIDHeader = "X-Request-ID"

// 受け入れる外部リクエストIDの形式。ログ汚染を防ぐため英数字と一部記号のみ。
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

type contextKey string

const requestStateKey contextKey = "request_state"

// requestState はリクエスト単位で共有する可変の情報。
// 内側のミドルウェアが解決した会員番号を外側のログミドルウェアへ渡すために使う。
type requestState struct {
	id       string
	memberID int64
}

// NewRequestIDMiddleware はリクエストIDを採番してコンテキストとレスポンスヘッダーに設定する。
// クライアントが妥当な形式のIDを送ってきた場合はそれを引き継ぐ。
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !requestIDPattern.MatchString(id) {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestStateKey, &requestState{id: id})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext はコンテキストからリクエストIDを取得する。未設定の場合は空文字。
func RequestIDFromContext(ctx context.Context) string {
	if st := stateFromContext(ctx); st != nil {
		return st.id
	}
	return ""
}

func stateFromContext(ctx context.Context) *requestState {
	st, _ := ctx.Value(requestStateKey).(*requestState)
	return st
}
