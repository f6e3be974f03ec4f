package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/degrade"
	"github.com/hitoshi/smap-gateway/internal/fallback"
	"github.com/hitoshi/smap-gateway/internal/middleware"
	"github.com/hitoshi/smap-gateway/internal/model"
	"github.com/hitoshi/smap-gateway/internal/security"
	"github.com/hitoshi/smap-gateway/internal/upstream"
	"github.com/hitoshi/smap-gateway/internal/verification"
)

// TokenIssuer はセッショントークンを発行するインターフェース。
type TokenIssuer interface {
	Issue(claims auth.Claims, ttl time.Duration) (string, time.Time, error)
}

// VerificationService は携帯電話番号の認証番号を扱うインターフェース。
type VerificationService interface {
	Issue(ctx context.Context, phone string) (string, error)
	Verify(ctx context.Context, phone, code string) error
	RequireVerified(ctx context.Context, phone string) error
	Consume(ctx context.Context, phone string) error
	TTL() time.Duration
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	SessionTTL         time.Duration // ログイン・トークン更新で発行するセッションの有効期間
	RegisterSessionTTL time.Duration // 会員登録直後に発行するセッションの有効期間
}

// AuthHandler は会員認証関連のHTTPハンドラー。
type AuthHandler struct {
	tokens    TokenIssuer
	cookies   SessionCookies
	verifier  VerificationService
	sanitizer security.TextSanitizerService
	config    AuthHandlerConfig
	logger    *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	tokens TokenIssuer,
	cookies SessionCookies,
	verifier VerificationService,
	sanitizer security.TextSanitizerService,
	config AuthHandlerConfig,
	logger *slog.Logger,
) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		tokens:    tokens,
		cookies:   cookies,
		verifier:  verifier,
		sanitizer: sanitizer,
		config:    config,
		logger:    logger,
	}
}

// LoginRoute はログインを宣言する。
// POST /api/auth/login
func (h *AuthHandler) LoginRoute() Route {
	return Route{
		Name:           "auth.login",
		Sensitivity:    degrade.Critical,
		RejectedStatus: http.StatusUnauthorized,
		Build: func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
			var req model.LoginRequest
			if apiErr := decodeJSON(r, &req); apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			return upstream.Descriptor{
				Method: http.MethodPost,
				Path:   "/api/v1/auth/login",
				Body:   req,
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			member, err := decodeMember(out)
			if err != nil {
				return Shaped{}, err
			}
			return h.issueSession(member, h.config.SessionTTL, http.StatusOK, "로그인되었습니다.")
		},
	}
}

// RegisterRoute は会員登録を宣言する。認証済みの携帯電話番号のみ登録できる。
// POST /api/auth/register
func (h *AuthHandler) RegisterRoute() Route {
	return Route{
		Name:        "auth.register",
		Sensitivity: degrade.Critical,
		Build: func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
			var req model.RegisterRequest
			if apiErr := decodeJSON(r, &req); apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			if apiErr := h.requireVerified(r.Context(), req.MtID); apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}

			name := h.sanitizer.Sanitize(req.MtName)
			if name == "" {
				return upstream.Descriptor{}, model.NewValidationError("mt_name", "mt_name 항목은 필수입니다.")
			}
			return upstream.Descriptor{
				Method: http.MethodPost,
				Path:   "/api/v1/members/register",
				Body: model.BackendRegisterRequest{
					MtID:       req.MtID,
					MtPwd:      req.MtPwd,
					MtHp:       req.MtID,
					MtName:     name,
					MtNickname: h.sanitizer.Sanitize(req.MtNickname),
					MtEmail:    req.MtEmail,
					MtBirth:    req.MtBirth,
					MtGender:   req.MtGender,
				},
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			member, err := decodeMember(out)
			if err != nil {
				return Shaped{}, err
			}
			// 同じ認証で二重に登録できないよう、登録完了後に認証状態を消費する。
			// バックエンドが返すmt_hpは書式が異なり得るため、認証に使った番号で消費する。
			if err := h.verifier.Consume(r.Context(), registeredPhone(r)); err != nil {
				h.logger.Warn("failed to consume verification",
					slog.Int64("mt_idx", member.MtIdx),
					slog.String("error", err.Error()),
				)
			}
			return h.issueSession(member, h.config.RegisterSessionTTL, http.StatusCreated, "회원가입이 완료되었습니다.")
		},
	}
}

// registeredPhone は登録リクエストで認証を確認した電話番号を返す。
func registeredPhone(r *http.Request) string {
	d, _ := builtDescriptor(r)
	body, _ := d.Body.(model.BackendRegisterRequest)
	return body.MtHp
}

// SendVerificationRoute は認証番号のSMS送信を宣言する。
// POST /api/auth/verification/send
func (h *AuthHandler) SendVerificationRoute() Route {
	return Route{
		Name:        "auth.verification.send",
		Sensitivity: degrade.Critical,
		Build: func(r *http.Request, _ *auth.Identity) (upstream.Descriptor, *model.APIError) {
			var req model.SendVerificationRequest
			if apiErr := decodeJSON(r, &req); apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			code, err := h.verifier.Issue(r.Context(), req.MtHp)
			if err != nil {
				h.logger.Error("failed to issue verification code", slog.String("error", err.Error()))
				return upstream.Descriptor{}, model.NewInternalError()
			}
			return upstream.Descriptor{
				Method: http.MethodPost,
				Path:   "/api/v1/sms/send",
				Body: model.BackendSMSRequest{
					Phone:   req.MtHp,
					Message: fmt.Sprintf("[SMAP] 인증번호 [%s]를 입력해주세요.", code),
				},
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			return Shaped{
				Data:    map[string]int{"expires_in": int(h.verifier.TTL().Seconds())},
				Message: "인증번호가 발송되었습니다.",
			}, nil
		},
	}
}

// VerifyCode は認証番号を確認する。バックエンドは呼ばない。
// POST /api/auth/verification/verify
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyCodeRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		middleware.WriteError(w, apiErr)
		return
	}

	err := h.verifier.Verify(r.Context(), req.MtHp, req.Code)
	switch {
	case err == nil:
		middleware.WriteEnvelope(w, http.StatusOK, model.Envelope{
			Success: true,
			Data:    map[string]bool{"verified": true},
			Message: "인증이 완료되었습니다.",
		})
	case errors.Is(err, verification.ErrCodeNotFound):
		middleware.WriteError(w, model.NewValidationError("code", "인증번호가 만료되었거나 발송되지 않았습니다."))
	case errors.Is(err, verification.ErrCodeMismatch):
		middleware.WriteError(w, model.NewValidationError("code", "인증번호가 일치하지 않습니다."))
	case errors.Is(err, verification.ErrTooManyAttempts):
		middleware.WriteError(w, model.NewValidationError("code", "인증 시도 횟수를 초과했습니다. 인증번호를 다시 요청해주세요."))
	default:
		h.logger.Error("failed to verify code", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// ChangePasswordRoute はパスワード変更を宣言する。
// POST /api/auth/change-password
func (h *AuthHandler) ChangePasswordRoute() Route {
	return Route{
		Name:        "auth.change_password",
		Sensitivity: degrade.Critical,
		RequireAuth: true,
		Build: func(r *http.Request, identity *auth.Identity) (upstream.Descriptor, *model.APIError) {
			var req model.ChangePasswordRequest
			if apiErr := decodeJSON(r, &req); apiErr != nil {
				return upstream.Descriptor{}, apiErr
			}
			return upstream.Descriptor{
				Method: http.MethodPost,
				Path:   "/api/v1/members/change-password",
				Body: model.BackendChangePasswordRequest{
					MtIdx:           identity.MemberID(),
					CurrentPassword: req.CurrentPassword,
					NewPassword:     req.NewPassword,
				},
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			return Shaped{Message: "비밀번호가 변경되었습니다."}, nil
		},
	}
}

// ProfileRoute はログイン中の会員情報の取得を宣言する。
// バックエンドに到達できない場合はトークンのクレームから組み立てた情報を返す。
// GET /api/auth/profile
func (h *AuthHandler) ProfileRoute() Route {
	return Route{
		Name:        "auth.profile",
		Sensitivity: degrade.BestEffort,
		RequireAuth: true,
		Build: func(r *http.Request, identity *auth.Identity) (upstream.Descriptor, *model.APIError) {
			return upstream.Descriptor{
				Method: http.MethodGet,
				Path:   fmt.Sprintf("/api/v1/members/%d", identity.MemberID()),
			}, nil
		},
		Shape: func(r *http.Request, _ *auth.Identity, out upstream.Outcome) (Shaped, error) {
			member, err := decodeMember(out)
			if err != nil {
				return Shaped{}, err
			}
			return Shaped{Data: model.ToMember(member)}, nil
		},
		Mock: func(r *http.Request, identity *auth.Identity) any {
			return fallback.Profile(identity.Claims)
		},
	}
}

// Refresh は現在のトークンと同じクレームで有効期限を延長したトークンを発行する。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	token, expiresAt, err := h.tokens.Issue(*identity.Claims, h.config.SessionTTL)
	if err != nil {
		h.logger.Error("failed to issue token",
			slog.Int64("mt_idx", identity.MemberID()),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	h.cookies.Issue(w, token, expiresAt)
	middleware.WriteEnvelope(w, http.StatusOK, model.Envelope{
		Success: true,
		Data: model.LoginResult{
			Token:     token,
			ExpiresAt: expiresAt.Unix(),
			Member:    fallback.Profile(identity.Claims),
		},
	})
}

// Logout はセッションCookieを削除する。未ログインでも成功を返す。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	middleware.WriteEnvelope(w, http.StatusOK, model.Envelope{
		Success: true,
		Message: "로그아웃되었습니다.",
	})
}

// requireVerified は携帯電話番号の認証が完了しているかを確認する。
func (h *AuthHandler) requireVerified(ctx context.Context, phone string) *model.APIError {
	err := h.verifier.RequireVerified(ctx, phone)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, verification.ErrNotVerified), errors.Is(err, verification.ErrCodeNotFound):
		return model.NewValidationError("mt_id", "휴대폰 인증이 필요합니다.")
	default:
		h.logger.Error("failed to load verification", slog.String("error", err.Error()))
		return model.NewInternalError()
	}
}

// issueSession は会員情報からトークンを発行し、ログイン結果を組み立てる。
func (h *AuthHandler) issueSession(member model.BackendMember, ttl time.Duration, status int, message string) (Shaped, error) {
	token, expiresAt, err := h.tokens.Issue(claimsFromMember(member), ttl)
	if err != nil {
		h.logger.Error("failed to issue token",
			slog.Int64("mt_idx", member.MtIdx),
			slog.String("error", err.Error()),
		)
		return Shaped{}, model.NewInternalError()
	}
	return Shaped{
		Status: status,
		Data: model.LoginResult{
			Token:     token,
			ExpiresAt: expiresAt.Unix(),
			Member:    model.ToMember(member),
		},
		Message: message,
		Session: &Session{Token: token, ExpiresAt: expiresAt},
	}, nil
}

// claimsFromMember はバックエンドの会員レコードからトークンのクレームを組み立てる。
func claimsFromMember(m model.BackendMember) auth.Claims {
	member := model.ToMember(m)
	return auth.Claims{
		MtIdx:      member.MtIdx,
		MtID:       member.MtID,
		MtName:     member.MtName,
		MtNickname: member.MtNickname,
		MtHp:       member.MtHp,
		MtEmail:    member.MtEmail,
		MtBirth:    member.MtBirth,
		MtGender:   member.MtGender,
		MtType:     member.MtType,
		MtLevel:    member.MtLevel,
	}
}

func decodeMember(out upstream.Outcome) (model.BackendMember, error) {
	raw, err := out.Data()
	if err != nil {
		return model.BackendMember{}, err
	}
	if len(raw) == 0 {
		return model.BackendMember{}, errors.New("member payload is empty")
	}
	return model.DecodeBackendMember(raw)
}
