package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/model"
)

const identityKey contextKey = "identity"

// IdentityResolver はリクエストから認証済みの会員を解決するインターフェース。
type IdentityResolver interface {
	Resolve(r *http.Request) (*auth.Identity, bool)
}

// NewRequireIdentityMiddleware は認証を必須とするミドルウェアを返す。
// 匿名の場合はバックエンドへ一切問い合わせずに401を返す。
func NewRequireIdentityMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := resolver.Resolve(r)
			if !ok {
				WriteError(w, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// NewOptionalIdentityMiddleware は認証情報があればコンテキストに設定し、なければそのまま通す。
func NewOptionalIdentityMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, ok := resolver.Resolve(r); ok {
				r = r.WithContext(ContextWithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ContextWithIdentity はIdentityを設定したコンテキストを返す。
// リクエストログに会員番号を残すため、リクエスト状態にも記録する。
func ContextWithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	if st := stateFromContext(ctx); st != nil {
		st.memberID = identity.MemberID()
	}
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext はコンテキストから認証済みのIdentityを取得する。
func IdentityFromContext(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*auth.Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
