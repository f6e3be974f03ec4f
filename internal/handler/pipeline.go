// Package handler はHTTPハンドラーを提供する。
//
// バックエンドを呼ぶルートはすべてRouteとして宣言し、Pipelineが
// 認証確認・入力検証・上流呼び出し・劣化判定・レスポンス整形を共通の手順で行う。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/degrade"
	"github.com/hitoshi/smap-gateway/internal/middleware"
	"github.com/hitoshi/smap-gateway/internal/model"
	"github.com/hitoshi/smap-gateway/internal/upstream"
	"github.com/hitoshi/smap-gateway/internal/validation"
)

// maxRequestBodyBytes はクライアントから受け付けるリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

type descriptorKey struct{}

// builtDescriptor はBuildが組み立てた呼び出しを返す。Shapeの中から参照する。
func builtDescriptor(r *http.Request) (upstream.Descriptor, bool) {
	d, ok := r.Context().Value(descriptorKey{}).(upstream.Descriptor)
	return d, ok
}

// Session はレスポンスと同時にCookieとして発行するセッション。
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Shaped はクライアントに返すレスポンスの中身。
type Shaped struct {
	// Status は成功時のHTTPステータス。0の場合は200。
	Status  int
	Data    any
	Message string
	// Session が設定されている場合はセッションCookieを発行する。
	Session *Session
}

// BuildFunc はリクエストから上流への呼び出しを組み立てる。
// 入力が不正な場合はAPIErrorを返し、上流には一切問い合わせない。
type BuildFunc func(r *http.Request, identity *auth.Identity) (upstream.Descriptor, *model.APIError)

// ShapeFunc は上流の成功応答をクライアント向けのスキーマに変換する。
// *model.APIErrorを返した場合はそのままクライアントに返す。
// それ以外のエラーは応答の形式不正として扱う。
type ShapeFunc func(r *http.Request, identity *auth.Identity, out upstream.Outcome) (Shaped, error)

// MockFunc はBestEffortルートで代替に使う合成データを返す。
type MockFunc func(r *http.Request, identity *auth.Identity) any

// Route はバックエンドを呼ぶ1つのエンドポイントの宣言。
type Route struct {
	Name        string
	Sensitivity degrade.Sensitivity
	RequireAuth bool
	Build       BuildFunc
	Shape       ShapeFunc
	Mock        MockFunc

	// RejectedStatus はバックエンドが2xxで"success":falseを返した場合のステータス。0の場合は400。
	RejectedStatus int
}

// SessionCookies はセッションCookieを発行するインターフェース。
type SessionCookies interface {
	Issue(w http.ResponseWriter, token string, expiresAt time.Time)
	Clear(w http.ResponseWriter)
}

// Pipeline はRouteを実行するHTTPハンドラーを組み立てる。
type Pipeline struct {
	client      upstream.Sender
	substituter *degrade.Substituter
	cookies     SessionCookies
	logger      *slog.Logger
}

// NewPipeline はPipelineを生成する。
func NewPipeline(client upstream.Sender, substituter *degrade.Substituter, cookies SessionCookies, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client:      client,
		substituter: substituter,
		cookies:     cookies,
		logger:      logger,
	}
}

// Handle はRouteを処理するhttp.HandlerFuncを返す。
//
//  1. 認証情報の確認（必須ルートで匿名なら401）
//  2. Buildによる呼び出しの組み立て（不正入力なら400）
//  3. 上流呼び出し
//  4. 重要度に応じた劣化判定
//  5. Shapeによる整形とセッションCookieの発行
func (p *Pipeline) Handle(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity, ok := middleware.IdentityFromContext(ctx)
		if route.RequireAuth && !ok {
			middleware.WriteError(w, model.NewUnauthorizedError())
			return
		}

		d, apiErr := route.Build(r, identity)
		if apiErr != nil {
			middleware.WriteError(w, apiErr)
			return
		}
		d.Header = forwardHeaders(ctx, d.Header, identity)
		r = r.WithContext(context.WithValue(ctx, descriptorKey{}, d))

		out := p.client.Send(ctx, d)
		if out.Kind == upstream.KindSuccess {
			out = rejectedAsError(out, route.RejectedStatus)
		}

		decision := degrade.Decide(out, route.Sensitivity)
		switch decision.Action {
		case degrade.Respond:
			p.respond(w, r, route, identity, out)
		case degrade.Substitute:
			p.substitute(w, r, route, identity, out)
		default:
			p.propagate(w, r, route, decision)
		}
	}
}

func (p *Pipeline) respond(w http.ResponseWriter, r *http.Request, route Route, identity *auth.Identity, out upstream.Outcome) {
	shaped, err := route.Shape(r, identity, out)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			middleware.WriteError(w, apiErr)
			return
		}
		p.logger.Warn("failed to shape upstream response",
			slog.String("route", route.Name),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		if route.Sensitivity == degrade.BestEffort {
			p.substitute(w, r, route, identity, out)
			return
		}
		middleware.WriteError(w, model.NewServiceUnavailableError(http.StatusBadGateway))
		return
	}

	if route.Sensitivity == degrade.BestEffort && p.substituter != nil {
		p.substituter.Remember(r.Context(), snapshotKey(route, identity, r), shaped.Data)
	}
	if shaped.Session != nil && p.cookies != nil {
		p.cookies.Issue(w, shaped.Session.Token, shaped.Session.ExpiresAt)
	}

	status := shaped.Status
	if status == 0 {
		status = http.StatusOK
	}
	middleware.WriteEnvelope(w, status, model.Envelope{
		Success: true,
		Data:    shaped.Data,
		Message: shaped.Message,
		Source:  model.SourceUpstream,
	})
}

func (p *Pipeline) substitute(w http.ResponseWriter, r *http.Request, route Route, identity *auth.Identity, cause upstream.Outcome) {
	var mock degrade.MockBuilder
	if route.Mock != nil {
		mock = func() any { return route.Mock(r, identity) }
	}

	var (
		data   any
		source = model.SourceMock
	)
	if p.substituter != nil {
		data, source = p.substituter.Substitute(r.Context(), route.Name, snapshotKey(route, identity, r), mock)
	} else if mock != nil {
		data = mock()
	}

	p.logger.Warn("serving substitute data",
		slog.String("route", route.Name),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("source", string(source)),
		slog.String("cause", cause.Kind.String()),
		slog.String("reason", string(cause.Reason)),
		slog.Int("upstream_status", cause.Status),
	)

	middleware.WriteEnvelope(w, http.StatusOK, model.Envelope{
		Success: true,
		Data:    data,
		Source:  source,
	})
}

func (p *Pipeline) propagate(w http.ResponseWriter, r *http.Request, route Route, decision degrade.Decision) {
	cause := decision.Cause
	args := []any{
		slog.String("route", route.Name),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("kind", cause.Kind.String()),
		slog.Int("status", decision.Status),
	}
	if cause.Kind == upstream.KindTransportFailure {
		args = append(args, slog.String("reason", string(cause.Reason)))
		if cause.Err != nil {
			args = append(args, slog.String("error", cause.Err.Error()))
		}
	}
	if decision.Status >= http.StatusInternalServerError {
		p.logger.Error("upstream call failed", args...)
	} else {
		p.logger.Info("upstream rejected request", args...)
	}
	middleware.WriteError(w, decision.Err)
}

// rejectedAsError は2xxでも"success":falseの応答をUpstreamErrorに読み替える。
func rejectedAsError(out upstream.Outcome, status int) upstream.Outcome {
	if out.Empty {
		return out
	}
	rejected, message := model.BackendRejected(out.Body)
	if !rejected {
		return out
	}
	if status == 0 {
		status = http.StatusBadRequest
	}
	out.Kind = upstream.KindUpstreamError
	out.Status = status
	out.Message = message
	return out
}

// forwardHeaders はリクエストIDと会員のトークンを上流へ引き継ぐ。
func forwardHeaders(ctx context.Context, h http.Header, identity *auth.Identity) http.Header {
	if h == nil {
		h = http.Header{}
	}
	if id := middleware.RequestIDFromContext(ctx); id != "" {
		h.Set(middleware.RequestIDHeader, id)
	}
	if identity != nil && identity.Token != "" && h.Get("Authorization") == "" {
		h.Set("Authorization", "Bearer "+identity.Token)
	}
	return h
}

func snapshotKey(route Route, identity *auth.Identity, r *http.Request) string {
	return degrade.SnapshotKey(route.Name, identity.MemberID(), r.URL.RequestURI())
}

// decodeJSON はリクエストボディをJSONとして読み込み、検証する。
func decodeJSON(r *http.Request, dst any) *model.APIError {
	// ResponseWriterを持たないため、上限超過はデコードエラーとして扱う
	body := http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("", "요청 본문이 비어 있습니다.")
		}
		return model.NewValidationError("", "요청 형식이 올바르지 않습니다.")
	}
	return validation.Struct(dst)
}
