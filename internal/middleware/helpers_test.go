package middleware

import (
	"net/http"

	"github.com/hitoshi/smap-gateway/internal/auth"
)

// mockResolver はIdentityResolverのモック。
type mockResolver struct {
	resolveFn func(r *http.Request) (*auth.Identity, bool)
}

func (m *mockResolver) Resolve(r *http.Request) (*auth.Identity, bool) {
	return m.resolveFn(r)
}

func resolverFor(memberID int64) *mockResolver {
	return &mockResolver{
		resolveFn: func(r *http.Request) (*auth.Identity, bool) {
			return testIdentity(memberID), true
		},
	}
}

func anonymousResolver() *mockResolver {
	return &mockResolver{
		resolveFn: func(r *http.Request) (*auth.Identity, bool) {
			return nil, false
		},
	}
}

func testIdentity(memberID int64) *auth.Identity {
	return &auth.Identity{
		Claims: &auth.Claims{MtIdx: memberID, MtName: "테스트"},
		Token:  "a.b.c",
		Source: auth.SourceCookie,
	}
}

// withIdentity はテスト用にIdentityを設定したリクエストを返す。
func withIdentity(r *http.Request, memberID int64) *http.Request {
	return r.WithContext(ContextWithIdentity(r.Context(), testIdentity(memberID)))
}
