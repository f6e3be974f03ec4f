package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore はPostgreSQLのkv_entriesテーブルに保存するStore。
// 期限切れ行は読み取り時に無視し、DeleteExpiredで定期的に削除する。
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Get は期限内の値を取得する。
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = $1 AND expires_at > $2`,
		key, s.now(),
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv entry: %w", err)
	}
	return value, nil
}

// Set は値を保存する。既存のキーは上書きする。
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		key, value, now.Add(ttl), now,
	)
	if err != nil {
		return fmt.Errorf("failed to set kv entry: %w", err)
	}
	return nil
}

// Delete は値を削除する。
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete kv entry: %w", err)
	}
	return nil
}

// Incr はカウンタを1加算して加算後の値を返す。
// 値は10進文字列で保存し、期限切れの行は1から数え直す。
// 1文のUPSERTで加算するため同時実行でも取りこぼさない。
func (s *PostgresStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()
	var n int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO kv_entries (key, value, expires_at, updated_at)
		 VALUES ($1, '1'::bytea, $3, $2)
		 ON CONFLICT (key) DO UPDATE
		 SET value = CASE
		         WHEN kv_entries.expires_at <= $2 THEN '1'::bytea
		         ELSE convert_to((convert_from(kv_entries.value, 'UTF8')::bigint + 1)::text, 'UTF8')
		     END,
		     expires_at = CASE
		         WHEN kv_entries.expires_at <= $2 THEN EXCLUDED.expires_at
		         ELSE kv_entries.expires_at
		     END,
		     updated_at = EXCLUDED.updated_at
		 RETURNING convert_from(value, 'UTF8')::bigint`,
		key, now, now.Add(ttl),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment kv counter: %w", err)
	}
	return n, nil
}

// DeleteExpired は期限切れの行を削除し、削除件数を返す。
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at <= $1`,
		s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired kv entries: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return count, nil
}

var (
	_ CounterStore = (*PostgresStore)(nil)
	_ Expirer      = (*PostgresStore)(nil)
)
