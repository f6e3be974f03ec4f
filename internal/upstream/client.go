package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hitoshi/smap-gateway/internal/metrics"
)

const (
	// StrategyStandard は証明書検証ありの通常の転送戦略。
	StrategyStandard = "standard"
	// StrategyInsecureTLS は証明書検証を無効にした代替の転送戦略。
	// 自己署名証明書やIPアドレスで公開されたバックエンドに到達するためだけに使う。
	StrategyInsecureTLS = "insecure-tls"

	// DefaultTimeout は1試行あたりの既定タイムアウト。
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBodyBytes はレスポンスボディの既定の上限。
	DefaultMaxBodyBytes int64 = 5 << 20
)

// Config は上流クライアントの設定。
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	TLSFallback    bool
	BreakerEnabled bool
	MaxBodyBytes   int64
	// UserAgent は上流に送るUser-Agent。空の場合は既定値。
	UserAgent string
}

// strategy は1つの転送戦略。戦略ごとに接続プールを持つ。
type strategy struct {
	name   string
	client *http.Client
}

// Client は外部バックエンドへの呼び出しを実行する。
// 複数のリクエストから同時に呼び出してよい。
type Client struct {
	baseURL    *url.URL
	strategies []strategy
	timeout    time.Duration
	maxBody    int64
	userAgent  string
	breaker    *gobreaker.CircuitBreaker[Outcome]
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// Sender は上流呼び出しのインターフェース。ハンドラーから利用する。
type Sender interface {
	Send(ctx context.Context, d Descriptor) Outcome
}

// NewClient は設定からClientを生成する。
// ベースURLが不正な場合はエラーを返す。
func NewClient(cfg Config, logger *slog.Logger, m metrics.MetricsCollector) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https: %q", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("backend url has no host: %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "smap-gateway/1.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NopCollector{}
	}

	c := &Client{
		baseURL:   base,
		timeout:   cfg.Timeout,
		maxBody:   cfg.MaxBodyBytes,
		userAgent: cfg.UserAgent,
		metrics:   m,
		logger:    logger,
	}

	c.strategies = append(c.strategies, strategy{
		name:   StrategyStandard,
		client: newHTTPClient(nil),
	})
	if cfg.TLSFallback {
		c.strategies = append(c.strategies, strategy{
			name: StrategyInsecureTLS,
			client: newHTTPClient(&tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // 自己署名証明書のバックエンドに対する代替経路
			}),
		})
	}

	if cfg.BreakerEnabled {
		c.breaker = newBreaker("smap-backend", logger, m)
	}

	return c, nil
}

// newHTTPClient は戦略ごとの接続プールを持つHTTPクライアントを生成する。
// タイムアウトは試行ごとのcontextで制御するため、http.Client.Timeoutは設定しない。
func newHTTPClient(tlsConfig *tls.Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Transport: transport,
		// リダイレクト先がバックエンドの外になることを防ぐため、リダイレクトは追わない
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// errTransport はブレーカーに失敗を伝えるための番兵エラー。
var errTransport = errors.New("upstream transport failure")

// Send はDescriptorを上流へ送信し、分類済みの結果を返す。
// エラーを返すことはなく、失敗はすべてOutcomeとして表現する。
func (c *Client) Send(ctx context.Context, d Descriptor) Outcome {
	target, err := c.resolve(d)
	if err != nil {
		c.logger.Error("invalid upstream descriptor",
			slog.String("path", d.Path),
			slog.String("error", err.Error()),
		)
		return transportFailure(ReasonOther, err)
	}

	var body []byte
	if d.Body != nil {
		body, err = json.Marshal(d.Body)
		if err != nil {
			return transportFailure(ReasonOther, fmt.Errorf("failed to encode request body: %w", err))
		}
	}

	if c.breaker == nil {
		return c.sendWithFallback(ctx, d, target, body)
	}

	out, err := c.breaker.Execute(func() (Outcome, error) {
		o := c.sendWithFallback(ctx, d, target, body)
		if countsAsFailure(o) {
			return o, errTransport
		}
		return o, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// ブレーカーが開いている間はネットワークに出ずに失敗を返す
		c.metrics.RecordUpstreamAttempt("breaker", string(ReasonCircuitOpen))
		return transportFailure(ReasonCircuitOpen, err)
	}
	return out
}

// countsAsFailure はブレーカーの失敗として数えるかを判定する。
// バックエンドが応答したUpstreamErrorと、呼び出し元の切断による中断は数えない。
func countsAsFailure(o Outcome) bool {
	return o.Kind == KindTransportFailure && o.Reason != ReasonCanceled
}

// sendWithFallback は戦略を順に試す。
// 次の戦略へ進むのは直前の試行がTransportFailureで終わった場合のみで、
// 代替戦略は1回だけ実行する。
func (c *Client) sendWithFallback(ctx context.Context, d Descriptor, target string, body []byte) Outcome {
	var out Outcome
	attempts := 0
	for i, s := range c.strategies {
		attemptCtx := ctx
		if i > 0 {
			// 代替の試行は呼び出し元の切断に影響されず、自身のタイムアウトまで実行する
			attemptCtx = context.WithoutCancel(ctx)
			c.logger.Warn("retrying upstream call with relaxed TLS verification",
				slog.String("strategy", s.name),
				slog.String("path", d.Path),
				slog.String("previous_reason", string(out.Reason)),
			)
		}

		out = c.attempt(attemptCtx, s, d, target, body)
		attempts++
		out.Strategy = s.name
		out.Attempts = attempts

		if out.Kind != KindTransportFailure || out.Reason == ReasonInvalidBody {
			// レスポンスを受け取れた場合は戦略を切り替えない
			return out
		}
	}
	return out
}

// attempt は1つの戦略で1回だけ送信する。
func (c *Client) attempt(ctx context.Context, s strategy, d Descriptor, target string, body []byte) Outcome {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := d.Method
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return transportFailure(ReasonOther, fmt.Errorf("failed to build request: %w", err))
	}
	for key, values := range d.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		out := transportFailure(classifyError(err), err)
		c.record(s.name, out, time.Since(start))
		c.logger.Warn("upstream transport failure",
			slog.String("strategy", s.name),
			slog.String("method", method),
			slog.String("path", d.Path),
			slog.String("reason", string(out.Reason)),
			slog.String("error", err.Error()),
		)
		return out
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err == nil && int64(len(data)) > c.maxBody {
		err = fmt.Errorf("response body exceeds %d bytes", c.maxBody)
	}
	if err != nil {
		// エラーステータスはボディを読めなくてもバックエンドの応答として扱う
		if resp.StatusCode >= 400 {
			out := upstreamError(resp.StatusCode, nil)
			c.metrics.RecordUpstreamStatus(resp.StatusCode)
			c.record(s.name, out, time.Since(start))
			return out
		}
		reason := ReasonInvalidBody
		if int64(len(data)) <= c.maxBody {
			reason = classifyError(err)
			err = fmt.Errorf("failed to read response body: %w", err)
		}
		out := transportFailure(reason, err)
		out.Status = resp.StatusCode
		c.record(s.name, out, time.Since(start))
		return out
	}

	out := classifyResponse(resp.StatusCode, data)
	c.metrics.RecordUpstreamStatus(resp.StatusCode)
	c.record(s.name, out, time.Since(start))
	if out.Kind == KindUpstreamError && out.Status >= 500 {
		c.logger.Warn("upstream returned server error",
			slog.String("strategy", s.name),
			slog.String("path", d.Path),
			slog.Int("http_status", out.Status),
		)
	}
	return out
}

func (c *Client) record(strategy string, out Outcome, latency time.Duration) {
	label := out.Kind.String()
	if out.Kind == KindTransportFailure {
		label = string(out.Reason)
	}
	c.metrics.RecordUpstreamAttempt(strategy, label)
	c.metrics.RecordUpstreamLatency(strategy, latency)
}

// resolve はDescriptorのパスをバックエンドの絶対URLに解決する。
// 絶対URLや".."でバックエンドの外を指すパスは拒否する。
func (c *Client) resolve(d Descriptor) (string, error) {
	if d.Path == "" || !strings.HasPrefix(d.Path, "/") {
		return "", fmt.Errorf("upstream path must start with '/': %q", d.Path)
	}
	if strings.HasPrefix(d.Path, "//") || strings.Contains(d.Path, "://") {
		return "", fmt.Errorf("upstream path must be relative: %q", d.Path)
	}

	rel, err := url.Parse(d.Path)
	if err != nil {
		return "", fmt.Errorf("invalid upstream path: %w", err)
	}
	for _, seg := range strings.Split(rel.Path, "/") {
		if seg == ".." {
			return "", fmt.Errorf("upstream path must not contain '..': %q", d.Path)
		}
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + rel.Path
	u.RawPath = ""
	query := rel.Query()
	for key, values := range d.Query {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	u.RawQuery = query.Encode()
	u.Fragment = ""

	if u.Host != c.baseURL.Host || u.Scheme != c.baseURL.Scheme {
		return "", fmt.Errorf("upstream path escapes backend host: %q", d.Path)
	}
	return u.String(), nil
}

// BaseURL は設定済みのバックエンドURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Strategies は試行順の戦略名を返す。
func (c *Client) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.name
	}
	return names
}
