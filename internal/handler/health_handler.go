package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/smap-gateway/internal/middleware"
	"github.com/hitoshi/smap-gateway/internal/model"
)

// HealthCheck はヘルスチェック対象の依存（Redis、PostgreSQLなど）。
// バックエンドの死活は含めない。バックエンド停止中も代替データで応答できるため。
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// healthStatus はヘルスチェックレスポンスのdata部分。
type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewHealthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// いずれかの依存が応答しない場合は503を返す。
// GET /health
func NewHealthHandler(logger *slog.Logger, checks ...HealthCheck) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := healthStatus{Status: "ok"}
		healthy := true
		if len(checks) > 0 {
			status.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				logger.Warn("health check failed",
					slog.String("check", c.Name),
					slog.String("error", err.Error()),
				)
				status.Checks[c.Name] = "unavailable"
				healthy = false
				continue
			}
			status.Checks[c.Name] = "ok"
		}

		if !healthy {
			status.Status = "degraded"
			middleware.WriteEnvelope(w, http.StatusServiceUnavailable, model.Envelope{
				Success: false,
				Data:    status,
				Error:   model.ErrCodeServiceUnavailable,
			})
			return
		}
		middleware.WriteEnvelope(w, http.StatusOK, model.Envelope{Success: true, Data: status})
	}
}
