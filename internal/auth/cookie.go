package auth

import (
	"net/http"
	"time"
)

// CookieConfig はセッションCookieの属性設定。
type CookieConfig struct {
	Domain string
	// Secure はローカル開発環境以外では常にtrueにする。
	Secure bool
}

// CookieManager はセッションCookieの発行と削除を行う。
// トークン形式とは独立してCookieポリシーを変更できるよう、属性の組み立てのみを担う。
type CookieManager struct {
	config CookieConfig
	now    func() time.Time
}

// NewCookieManager はCookieManagerを生成する。
func NewCookieManager(config CookieConfig) *CookieManager {
	return &CookieManager{
		config: config,
		now:    time.Now,
	}
}

// Cookie はトークンの残り有効期間をMax-Ageに持つCookieを組み立てる。
func (m *CookieManager) Cookie(token string, expiresAt time.Time) *http.Cookie {
	maxAge := int(expiresAt.Sub(m.now()).Seconds())
	if maxAge <= 0 {
		// 期限切れのトークンでCookieを残さない
		maxAge = -1
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   m.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Issue はセッションCookieをレスポンスに設定する。
func (m *CookieManager) Issue(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, m.Cookie(token, expiresAt))
}

// Clear はセッションCookieを即時失効させる。
// 旧Cookieが残っているとログアウト後も認証されてしまうため、旧名も合わせて削除する。
func (m *CookieManager) Clear(w http.ResponseWriter) {
	names := append([]string{CookieName}, LegacyCookieNames...)
	for _, name := range names {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   m.config.Domain,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   m.config.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
