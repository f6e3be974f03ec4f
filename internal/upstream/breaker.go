package upstream

import (
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hitoshi/smap-gateway/internal/metrics"
)

const (
	breakerMinRequests  = 10
	breakerFailureRatio = 0.6
	breakerInterval     = time.Minute
	breakerOpenTimeout  = 30 * time.Second
	breakerHalfOpenMax  = 3
)

// newBreaker は上流呼び出し用のサーキットブレーカーを生成する。
// 1分間の計測窓で10件以上のうち60%以上が転送失敗なら開き、30秒後に半開状態で試行を再開する。
func newBreaker(name string, logger *slog.Logger, m metrics.MetricsCollector) *gobreaker.CircuitBreaker[Outcome] {
	m.RecordBreakerState(name, stateToFloat(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[Outcome](gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenMax,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			m.RecordBreakerState(name, stateToFloat(to))
			m.RecordBreakerTransition(name, from.String(), to.String())
		},
	})
}

// stateToFloat はブレーカーの状態をメトリクス用の数値に変換する。
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
