// Package cleanup は期限切れスナップショットの定期削除ジョブを提供する。
// サーバー側でTTLを処理できないストア（PostgreSQL、メモリ）から
// 有効期限を過ぎたエントリを削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/smap-gateway/internal/kvstore"
	"github.com/hitoshi/smap-gateway/internal/metrics"
)

// DefaultInterval はジョブの既定の実行間隔。
const DefaultInterval = 10 * time.Minute

// CleanupJob は期限切れスナップショットの削除ジョブ。
// 削除は冪等で、対象がない場合もエラーにならない。
type CleanupJob struct {
	store    kvstore.Expirer
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	Interval time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store kvstore.Expirer, m metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if m == nil {
		m = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		store:    store,
		metrics:  m,
		logger:   logger,
		Interval: DefaultInterval,
	}
}

// Run は期限切れエントリを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.store.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("スナップショットのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("スナップショットのクリーンアップに失敗: %w", err)
	}

	j.metrics.RecordSnapshotsDeleted(deleted)

	duration := time.Since(start)
	j.logger.Info("スナップショットのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start は即時に1回実行したあと、Intervalごとにctxが終了するまで実行を繰り返す。
// 個々の実行の失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
