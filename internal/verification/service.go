// Package verification は会員登録時の携帯電話番号認証を提供する。
// 認証番号はkvstoreに電話番号単位で保存し、同じ番号への再送信は後勝ちで上書きする。
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/hitoshi/smap-gateway/internal/kvstore"
)

const (
	// DefaultTTL は認証番号の既定の有効期間。
	DefaultTTL = 3 * time.Minute
	// DefaultMaxAttempts は1つの認証番号に対する既定の試行上限。
	DefaultMaxAttempts = 5

	codeDigits     = 6
	keyPrefix      = "verification:"
	attemptsSuffix = ":attempts"
)

var (
	// ErrCodeNotFound は認証番号が未送信か期限切れであることを表す。
	ErrCodeNotFound = errors.New("verification code not found or expired")
	// ErrCodeMismatch は認証番号が一致しないことを表す。
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrTooManyAttempts は試行上限を超えたことを表す。
	ErrTooManyAttempts = errors.New("too many verification attempts")
	// ErrNotVerified は認証が完了していないことを表す。
	ErrNotVerified = errors.New("phone number is not verified")
)

// entry はストアに保存する認証状態。
type entry struct {
	Code      string    `json:"code"`
	Verified  bool      `json:"verified"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service は認証番号の発行と確認を行う。
// 試行回数は認証状態とは別のカウンタキーで数える。
type Service struct {
	store       kvstore.CounterStore
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	generate    func() (string, error)
}

// NewService はServiceを生成する。ttl・maxAttemptsが0以下の場合は既定値を使う。
func NewService(store kvstore.CounterStore, ttl time.Duration, maxAttempts int) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		store:       store,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         time.Now,
		generate:    generateCode,
	}
}

// TTL は認証番号の有効期間を返す。
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue は新しい認証番号を発行して保存する。以前の番号は無効になる。
func (s *Service) Issue(ctx context.Context, phone string) (string, error) {
	code, err := s.generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	e := entry{
		Code:      code,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.save(ctx, phone, e); err != nil {
		return "", err
	}
	if err := s.store.Delete(ctx, attemptsKey(phone)); err != nil {
		return "", fmt.Errorf("failed to reset verification attempts: %w", err)
	}
	return code, nil
}

// Verify は認証番号を確認する。成功すると認証済みとして記録する。
// 比較の前に試行回数をアトミックに加算するため、同時に送られた誤答も上限を超えて比較されない。
// 上限に達した番号は以後すべて拒否する。
func (s *Service) Verify(ctx context.Context, phone, code string) error {
	e, err := s.load(ctx, phone)
	if err != nil {
		return err
	}

	ttl := e.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrCodeNotFound
	}
	attempts, err := s.store.Incr(ctx, attemptsKey(phone), ttl)
	if err != nil {
		return fmt.Errorf("failed to count verification attempt: %w", err)
	}
	if attempts > int64(s.maxAttempts) {
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(e.Code), []byte(code)) != 1 {
		if attempts >= int64(s.maxAttempts) {
			return ErrTooManyAttempts
		}
		return ErrCodeMismatch
	}

	e.Verified = true
	return s.save(ctx, phone, e)
}

// RequireVerified は電話番号が認証済みかを確認する。
func (s *Service) RequireVerified(ctx context.Context, phone string) error {
	e, err := s.load(ctx, phone)
	if errors.Is(err, ErrCodeNotFound) {
		return ErrNotVerified
	}
	if err != nil {
		return err
	}
	if !e.Verified {
		return ErrNotVerified
	}
	return nil
}

// Consume は認証状態を削除する。会員登録の完了後に呼ぶ。
func (s *Service) Consume(ctx context.Context, phone string) error {
	if err := s.store.Delete(ctx, keyPrefix+phone); err != nil {
		return fmt.Errorf("failed to consume verification: %w", err)
	}
	if err := s.store.Delete(ctx, attemptsKey(phone)); err != nil {
		return fmt.Errorf("failed to consume verification: %w", err)
	}
	return nil
}

func attemptsKey(phone string) string {
	return keyPrefix + phone + attemptsSuffix
}

func (s *Service) load(ctx context.Context, phone string) (entry, error) {
	raw, err := s.store.Get(ctx, keyPrefix+phone)
	if errors.Is(err, kvstore.ErrNotFound) {
		return entry{}, ErrCodeNotFound
	}
	if err != nil {
		return entry{}, fmt.Errorf("failed to load verification: %w", err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, fmt.Errorf("failed to decode verification: %w", err)
	}
	if !s.now().Before(e.ExpiresAt) {
		return entry{}, ErrCodeNotFound
	}
	return e, nil
}

// save は元の有効期限を保ったまま状態を保存する。
func (s *Service) save(ctx context.Context, phone string, e entry) error {
	ttl := e.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrCodeNotFound
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode verification: %w", err)
	}
	if err := s.store.Set(ctx, keyPrefix+phone, raw, ttl); err != nil {
		return fmt.Errorf("failed to save verification: %w", err)
	}
	return nil
}

// generateCode は暗号論的乱数で6桁の数字を生成する。
func generateCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
