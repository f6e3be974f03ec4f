package auth

import (
	"net/http"
	"strings"
)

const (
	// CookieName は主たる認証Cookieの名前。
	CookieName = "auth-token"
)

// LegacyCookieNames は移行期間中に読み取りのみ許容する旧Cookie名。
var LegacyCookieNames = []string{"token", "client-token"}

// TokenSource はトークンをどこから取得したかを表す。
type TokenSource string

const (
	SourceHeader       TokenSource = "header"
	SourceCookie       TokenSource = "cookie"
	SourceLegacyCookie TokenSource = "legacy_cookie"
)

// Identity は認証済みの会員を表す。
type Identity struct {
	Claims *Claims
	Token  string
	Source TokenSource
}

// MemberID は会員番号（mt_idx）を返す。
func (i *Identity) MemberID() int64 {
	if i == nil || i.Claims == nil {
		return 0
	}
	return i.Claims.MtIdx
}

// TokenVerifier はトークン検証のインターフェース。
type TokenVerifier interface {
	Verify(token string) (*Claims, bool)
}

// Resolver はリクエストから認証情報を探し、検証済みのIdentityを返す。
// 状態を持たないため、同じリクエストに対して何度呼んでも同じ結果になる。
type Resolver struct {
	verifier TokenVerifier
}

// NewResolver はResolverを生成する。
func NewResolver(verifier TokenVerifier) *Resolver {
	return &Resolver{verifier: verifier}
}

type candidate struct {
	token  string
	source TokenSource
}

// Resolve は次の優先順位でトークン候補を検証する。
//  1. Authorization: Bearer <token> ヘッダー
//  2. auth-token Cookie
//  3. 旧Cookie（token, client-token）
//
// 構造的に正しい候補のみ検証し、検証に失敗した場合は次の候補へ進む。
// いずれも検証できなければ匿名（false）を返す。
func (res *Resolver) Resolve(r *http.Request) (*Identity, bool) {
	for _, c := range collectCandidates(r) {
		if !wellFormed(c.token) {
			continue
		}
		claims, ok := res.verifier.Verify(c.token)
		if !ok {
			continue
		}
		return &Identity{
			Claims: claims,
			Token:  c.token,
			Source: c.source,
		}, true
	}
	return nil, false
}

func collectCandidates(r *http.Request) []candidate {
	candidates := make([]candidate, 0, 2+len(LegacyCookieNames))

	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		candidates = append(candidates, candidate{token: token, source: SourceHeader})
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		candidates = append(candidates, candidate{token: cookie.Value, source: SourceCookie})
	}
	for _, name := range LegacyCookieNames {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			candidates = append(candidates, candidate{token: cookie.Value, source: SourceLegacyCookie})
		}
	}
	return candidates
}

// bearerToken は"Bearer <token>"形式のヘッダー値からトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// wellFormed はJWSコンパクト形式（空でない3セグメント）かを確認する。
func wellFormed(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
