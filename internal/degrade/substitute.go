package degrade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/smap-gateway/internal/kvstore"
	"github.com/hitoshi/smap-gateway/internal/metrics"
	"github.com/hitoshi/smap-gateway/internal/model"
)

// DefaultSnapshotTTL はスナップショットの既定の保持期間。
const DefaultSnapshotTTL = 24 * time.Hour

// MockBuilder はルートのスキーマに合致する合成データを返す。
type MockBuilder func() any

// SnapshotKey はスナップショットの保存キーを組み立てる。
// 会員ごと・リクエストごとに分けて保存し、他の会員のデータを返さないようにする。
func SnapshotKey(route string, subject int64, requestURI string) string {
	return fmt.Sprintf("snapshot:%s:%d:%s", route, subject, requestURI)
}

// Substituter はSubstituteの決定に対して返す代替データを解決する。
// 直近の成功応答（スナップショット）があればそれを、なければ合成データを返す。
type Substituter struct {
	store   kvstore.Store
	ttl     time.Duration
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewSubstituter はSubstituterを生成する。storeがnilの場合はスナップショットを使わない。
func NewSubstituter(store kvstore.Store, ttl time.Duration, m metrics.MetricsCollector, logger *slog.Logger) *Substituter {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	if m == nil {
		m = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Substituter{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
	}
}

// Remember は成功したBestEffortルートのクライアント向けデータをスナップショットとして保存する。
// 保存の失敗は応答に影響させず、ログに残すだけにする。
func (s *Substituter) Remember(ctx context.Context, key string, data any) {
	if s.store == nil || key == "" {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("failed to encode snapshot",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.store.Set(ctx, key, payload, s.ttl); err != nil {
		s.logger.Warn("failed to save snapshot",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Substitute は代替データとそのデータ元を返す。
func (s *Substituter) Substitute(ctx context.Context, route, key string, mock MockBuilder) (any, model.DataSource) {
	if s.store != nil && key != "" {
		payload, err := s.store.Get(ctx, key)
		switch {
		case err == nil && json.Valid(payload):
			s.metrics.RecordDegradation(route, string(model.SourceCache))
			return json.RawMessage(payload), model.SourceCache
		case err != nil && !errors.Is(err, kvstore.ErrNotFound):
			s.logger.Warn("failed to load snapshot",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	s.metrics.RecordDegradation(route, string(model.SourceMock))
	if mock == nil {
		return nil, model.SourceMock
	}
	return mock(), model.SourceMock
}
