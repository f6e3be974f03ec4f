// Package kvstore はTTL付きのキーバリューストアを提供する。
// 認証番号やスナップショットのようなプロセス外に出してよい一時データを、
// メモリ・Redis・PostgreSQLのいずれかに保存する。
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound はキーが存在しないか期限切れであることを表す。
var ErrNotFound = errors.New("kvstore: key not found")

// Store はTTL付きキーバリューストアのインターフェース。
// 同じキーへの同時書き込みは後勝ちとする。
type Store interface {
	// Get は値を返す。存在しないか期限切れの場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set は値をttlの間保存する。ttlが0以下の場合は保存しない。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete は値を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
}

// Expirer は期限切れエントリを能動的に削除できるストア。
// サーバー側でTTLを処理できないバックエンドが実装する。
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Counter はキー単位の整数カウンタをアトミックに加算できるストア。
// 最初の加算でttlを設定し、以降の加算では期限を延ばさない。
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// CounterStore はStoreとCounterの両方を備えるストア。
type CounterStore interface {
	Store
	Counter
}
