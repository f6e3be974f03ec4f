package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/config"
	"github.com/hitoshi/smap-gateway/internal/database"
	"github.com/hitoshi/smap-gateway/internal/degrade"
	"github.com/hitoshi/smap-gateway/internal/handler"
	"github.com/hitoshi/smap-gateway/internal/kvstore"
	"github.com/hitoshi/smap-gateway/internal/metrics"
	"github.com/hitoshi/smap-gateway/internal/middleware"
	"github.com/hitoshi/smap-gateway/internal/security"
	"github.com/hitoshi/smap-gateway/internal/upstream"
	"github.com/hitoshi/smap-gateway/internal/verification"
)

const (
	storePingTimeout = 5 * time.Second
	// キー自体に用途別の接頭辞（verification:、snapshot:）が付く。
	redisKeyPrefix = "smap:"
)

// stores はserveモードで使うTTLストア群。
type stores struct {
	verification kvstore.CounterStore
	snapshots    kvstore.Store
	checks       []handler.HealthCheck
	closers      []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores は設定に応じてストアを選択する。
//
//   - 認証番号: REDIS_URL > DATABASE_URL > メモリ
//   - スナップショット: DATABASE_URL > REDIS_URL > メモリ
//
// 外部ストアに接続できない場合はエラーを返す。
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{}

	var redisStore *kvstore.RedisStore
	if cfg.RedisURL != "" {
		client, err := kvstore.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Close() })

		redisStore = kvstore.NewRedisStore(client, redisKeyPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		err = redisStore.Ping(pingCtx)
		cancel()
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.checks = append(s.checks, handler.HealthCheck{Name: "redis", Check: redisStore.Ping})
		logger.Info("redis connection established")
	}

	var pgStore *kvstore.PostgresStore
	if cfg.DatabaseURL != "" {
		db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.closers = append(s.closers, func() { _ = db.Close() })

		if err := database.Ping(ctx, db, storePingTimeout); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pgStore = kvstore.NewPostgresStore(db)
		s.checks = append(s.checks, handler.HealthCheck{Name: "database", Check: db.PingContext})
		logger.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
	}

	var memory *kvstore.MemoryStore
	memoryStore := func() *kvstore.MemoryStore {
		if memory == nil {
			memory = kvstore.NewMemoryStore(time.Minute)
			s.closers = append(s.closers, memory.Stop)
		}
		return memory
	}

	switch {
	case redisStore != nil:
		s.verification = redisStore
	case pgStore != nil:
		s.verification = pgStore
	default:
		s.verification = memoryStore()
	}

	switch {
	case pgStore != nil:
		s.snapshots = pgStore
	case redisStore != nil:
		s.snapshots = redisStore
	default:
		s.snapshots = memoryStore()
	}

	if memory != nil {
		logger.Warn("using in-process memory store; state is not shared between instances")
	}
	return s, nil
}

// gateway はserveモードで組み立てたHTTPハンドラーと後始末。
type gateway struct {
	handler http.Handler
	closers []func()
}

// Close は確保したリソースを逆順に解放する。
func (g *gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		g.closers[i]()
	}
}

// newGateway は全依存関係をワイヤリングしてルーターを構築する。
func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	// 1. ストア
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	g := &gateway{closers: []func(){st.close}}

	// 2. メトリクス
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 3. セッション
	codec, err := auth.NewTokenCodec(cfg.JWTSecret)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}
	cookies := auth.NewCookieManager(auth.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
	})

	// 4. 上流クライアント
	client, err := upstream.NewClient(upstream.Config{
		BaseURL:        cfg.BackendURL,
		Timeout:        cfg.UpstreamTimeout,
		TLSFallback:    cfg.UpstreamTLSFallback,
		BreakerEnabled: cfg.UpstreamBreakerEnabled,
		MaxBodyBytes:   cfg.UpstreamMaxBody,
	}, logger, collector)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}
	logger.Info("upstream client configured",
		slog.String("backend_url", client.BaseURL()),
		slog.Any("strategies", client.Strategies()),
	)

	// 5. ドメインサービス
	verifier := verification.NewService(st.verification, cfg.VerificationTTL, cfg.VerificationMaxAttempts)
	sanitizer := security.NewTextSanitizer()
	substituter := degrade.NewSubstituter(st.snapshots, cfg.SnapshotTTL, collector, logger)

	// 6. レート制限（設定はreq/min、リミッターはreq/sec）
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	g.closers = append(g.closers, rateLimiter.Stop)

	// 7. ルーター
	g.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		Resolver:          auth.NewResolver(codec),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HSTS:              cfg.CookieSecure,
		Pipeline:          handler.NewPipeline(client, substituter, cookies, logger),
		Auth: handler.NewAuthHandler(codec, cookies, verifier, sanitizer, handler.AuthHandlerConfig{
			SessionTTL:         cfg.SessionTTL,
			RegisterSessionTTL: cfg.RegisterSessionTTL,
		}, logger),
		Groups:    handler.NewGroupHandler(sanitizer),
		Locations: handler.NewLocationHandler(),
		Schedules: handler.NewScheduleHandler(sanitizer),
		Health:    handler.NewHealthHandler(logger, st.checks...),
		Metrics:   metrics.Handler(registry),
	})

	return g, nil
}

// rateLimiterConfig はreq/min単位の設定をリミッターの設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitWrite > 0 {
		rl.WriteRate = rate.Limit(float64(cfg.RateLimitWrite) / 60.0)
		rl.WriteBurst = cfg.RateLimitWrite
	}
	if cfg.RateLimitLogin > 0 {
		rl.LoginRequests = cfg.RateLimitLogin
	}
	return rl
}

// newRegistry はランタイムとプロセスのコレクタを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// workerHandler はワーカーモードで公開する/healthと/metricsのハンドラーを返す。
func workerHandler(registry *prometheus.Registry, logger *slog.Logger, checks ...handler.HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(logger, checks...))
	r.Handle("/metrics", metrics.Handler(registry))
	return r
}
