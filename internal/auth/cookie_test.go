package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestCookieManager(config CookieConfig, now time.Time) *CookieManager {
	m := NewCookieManager(config)
	m.now = func() time.Time { return now }
	return m
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCookieManager_Issue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestCookieManager(CookieConfig{Secure: true, Domain: "smap.site"}, now)

	rec := httptest.NewRecorder()
	m.Issue(rec, "aaa.bbb.ccc", now.Add(7*24*time.Hour))

	cookie := findCookie(rec.Result().Cookies(), CookieName)
	if cookie == nil {
		t.Fatal("expected auth-token cookie to be set")
	}
	if cookie.Value != "aaa.bbb.ccc" {
		t.Errorf("value: want %q, got %q", "aaa.bbb.ccc", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if !cookie.Secure {
		t.Error("cookie should be Secure")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite: want Lax, got %v", cookie.SameSite)
	}
	if cookie.Path != "/" {
		t.Errorf("Path: want /, got %q", cookie.Path)
	}
	if cookie.Domain != "smap.site" {
		t.Errorf("Domain: want smap.site, got %q", cookie.Domain)
	}
	if want := int((7 * 24 * time.Hour).Seconds()); cookie.MaxAge != want {
		t.Errorf("MaxAge: want %d, got %d", want, cookie.MaxAge)
	}
}

func TestCookieManager_Issue_DevelopmentIsNotSecure(t *testing.T) {
	now := time.Now()
	m := newTestCookieManager(CookieConfig{Secure: false}, now)

	rec := httptest.NewRecorder()
	m.Issue(rec, "aaa.bbb.ccc", now.Add(time.Hour))

	cookie := findCookie(rec.Result().Cookies(), CookieName)
	if cookie == nil {
		t.Fatal("expected cookie")
	}
	if cookie.Secure {
		t.Error("cookie should not be Secure in development")
	}
}

func TestCookieManager_Issue_ExpiredTokenDeletesCookie(t *testing.T) {
	now := time.Now()
	m := newTestCookieManager(CookieConfig{}, now)

	cookie := m.Cookie("aaa.bbb.ccc", now.Add(-time.Minute))
	if cookie.MaxAge >= 0 {
		t.Errorf("MaxAge: want negative for expired token, got %d", cookie.MaxAge)
	}
}

func TestCookieManager_Clear(t *testing.T) {
	m := newTestCookieManager(CookieConfig{Secure: true}, time.Now())

	rec := httptest.NewRecorder()
	m.Clear(rec)

	cookies := rec.Result().Cookies()
	names := append([]string{CookieName}, LegacyCookieNames...)
	for _, name := range names {
		cookie := findCookie(cookies, name)
		if cookie == nil {
			t.Errorf("expected %s to be cleared", name)
			continue
		}
		if cookie.Value != "" {
			t.Errorf("%s: expected empty value, got %q", name, cookie.Value)
		}
		if cookie.MaxAge >= 0 {
			t.Errorf("%s: expected negative MaxAge, got %d", name, cookie.MaxAge)
		}
		if !cookie.HttpOnly || !cookie.Secure || cookie.Path != "/" {
			t.Errorf("%s: clear cookie must keep the same attributes", name)
		}
	}
}
