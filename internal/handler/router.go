package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/smap-gateway/internal/middleware"
	"github.com/hitoshi/smap-gateway/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Resolver          middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	// HSTS はStrict-Transport-Securityを付与するか。HTTPSで配信する環境でのみ有効にする。
	HSTS bool

	// ルート宣言の実行
	Pipeline *Pipeline

	// ハンドラー
	Auth      *AuthHandler
	Groups    *GroupHandler
	Locations *LocationHandler
	Schedules *ScheduleHandler

	// 運用エンドポイント
	Health  http.Handler
	Metrics http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//	  /api/*: OptionalIdentity → RateLimit(General) → RateLimit(Write)
//
// 認証必須かどうかは各Routeの宣言で判定する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, model.NewNotFoundError())
	})

	// --- 運用エンドポイント ---
	if deps.Health != nil {
		r.Get("/health", deps.Health.ServeHTTP)
	}
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	p := deps.Pipeline
	rl := deps.RateLimiter

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewOptionalIdentityMiddleware(deps.Resolver))
		r.Use(rl.GeneralMiddleware())
		r.Use(rl.WriteMiddleware())

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.With(rl.LoginMiddleware()).Post("/login", p.Handle(deps.Auth.LoginRoute()))
			r.Post("/register", p.Handle(deps.Auth.RegisterRoute()))
			r.With(rl.LoginMiddleware()).Post("/verification/send", p.Handle(deps.Auth.SendVerificationRoute()))
			r.With(rl.LoginMiddleware()).Post("/verification/verify", deps.Auth.VerifyCode)
			r.Post("/logout", deps.Auth.Logout)

			r.Post("/change-password", p.Handle(deps.Auth.ChangePasswordRoute()))
			r.Get("/profile", p.Handle(deps.Auth.ProfileRoute()))
			r.With(middleware.NewRequireIdentityMiddleware(deps.Resolver)).Post("/refresh", deps.Auth.Refresh)
		})

		// グループ
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", p.Handle(deps.Groups.ListRoute()))
			r.Post("/", p.Handle(deps.Groups.CreateRoute()))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", p.Handle(deps.Groups.GetRoute()))
				r.Put("/", p.Handle(deps.Groups.UpdateRoute()))
				r.Delete("/", p.Handle(deps.Groups.DeleteRoute()))
			})
		})

		// 位置ログ
		r.Route("/location-logs", func(r chi.Router) {
			r.Get("/summary/{memberId}", p.Handle(deps.Locations.SummaryRoute()))
			r.Get("/daily/{memberId}", p.Handle(deps.Locations.DailyRoute()))
		})

		// グループ予定
		r.Route("/schedule/group/{id}/schedules", func(r chi.Router) {
			r.Get("/", p.Handle(deps.Schedules.ListRoute()))
			r.Post("/", p.Handle(deps.Schedules.CreateRoute()))
		})
	})

	return r
}
