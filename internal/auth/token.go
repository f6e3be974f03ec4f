// Package auth はセッショントークンの発行・検証、リクエストからの認証情報の解決、
// セッションCookieの発行・削除を提供する。
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims はセッショントークンに埋め込む会員の識別情報。
// 一度発行したトークンのクレームは変更しない。変更が必要な場合は再発行する。
type Claims struct {
	MtIdx      int64  `json:"mt_idx"`
	MtID       string `json:"mt_id,omitempty"`
	MtName     string `json:"mt_name,omitempty"`
	MtNickname string `json:"mt_nickname,omitempty"`
	MtHp       string `json:"mt_hp,omitempty"`
	MtEmail    string `json:"mt_email,omitempty"`
	MtBirth    string `json:"mt_birth,omitempty"`
	MtGender   int    `json:"mt_gender,omitempty"`
	MtType     int    `json:"mt_type,omitempty"`
	MtLevel    int    `json:"mt_level,omitempty"`
	jwt.RegisteredClaims
}

// IssuedAtTime は発行時刻を返す。未設定の場合はゼロ値。
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime は有効期限を返す。未設定の場合はゼロ値。
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// SameIdentity は発行時刻・有効期限を除いた会員情報が等しいかを判定する。
func (c *Claims) SameIdentity(o *Claims) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.MtIdx == o.MtIdx &&
		c.MtID == o.MtID &&
		c.MtName == o.MtName &&
		c.MtNickname == o.MtNickname &&
		c.MtHp == o.MtHp &&
		c.MtEmail == o.MtEmail &&
		c.MtBirth == o.MtBirth &&
		c.MtGender == o.MtGender &&
		c.MtType == o.MtType &&
		c.MtLevel == o.MtLevel
}

// TokenCodec はHS256署名のセッショントークンを発行・検証する。
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption はTokenCodecの任意設定。
type CodecOption func(*TokenCodec)

// WithClock は検証・発行に使う時計を差し替える。テスト用。
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// WithIssuer はissクレームに入れる発行者名を設定する。
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		c.issuer = issuer
	}
}

// NewTokenCodec はTokenCodecを生成する。
// シークレットが空の場合は起動時の致命的エラーとしてエラーを返す。
func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}
	c := &TokenCodec{
		secret: []byte(secret),
		issuer: "smap-gateway",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue はクレームに発行時刻・有効期限を付与して署名し、トークン文字列を返す。
// 渡されたクレームは変更しない。
// エラーはプログラミングミス（ttlが0以下、mt_idxが不正）でのみ発生する。
func (c *TokenCodec) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("token ttl must be positive: %s", ttl)
	}
	if claims.MtIdx <= 0 {
		return "", time.Time{}, fmt.Errorf("token subject must be positive: %d", claims.MtIdx)
	}

	// NumericDateは秒精度のため、発行時刻を秒で切り捨ててから有効期限を計算する
	now := c.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   strconv.FormatInt(claims.MtIdx, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
// 構造不正・署名不一致・期限切れのいずれの場合もfalseを返し、エラーは返さない。
// 有効期限ちょうどの時刻は期限切れとして扱う。
func (c *TokenCodec) Verify(tokenString string) (*Claims, bool) {
	if tokenString == "" {
		return nil, false
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid {
		return nil, false
	}

	if err := validateClaims(claims); err != nil {
		return nil, false
	}
	return claims, true
}

// validateClaims はライブラリが検証しない不変条件を確認する。
func validateClaims(claims *Claims) error {
	if claims.MtIdx <= 0 {
		return errors.New("missing subject")
	}
	if claims.Subject != "" && claims.Subject != strconv.FormatInt(claims.MtIdx, 10) {
		return errors.New("subject mismatch")
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return errors.New("missing iat or exp")
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return errors.New("exp must be after iat")
	}
	return nil
}
