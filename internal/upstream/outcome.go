// Package upstream は外部バックエンドへのHTTP呼び出しを、複数の転送戦略と
// タイムアウト・サーキットブレーカー付きで実行し、結果を分類して返す。
package upstream

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/smap-gateway/internal/model"
)

// Kind は上流呼び出し結果の種別。
type Kind int

const (
	// KindSuccess はステータス400未満でJSONまたは空のボディを受け取ったことを表す。
	KindSuccess Kind = iota + 1
	// KindTransportFailure はレスポンスを受け取れなかったことを表す。
	KindTransportFailure
	// KindUpstreamError はバックエンドがステータス400以上で失敗を返したことを表す。
	KindUpstreamError
)

// String はメトリクスとログで使う種別名を返す。
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTransportFailure:
		return "transport_failure"
	case KindUpstreamError:
		return "upstream_error"
	default:
		return "unknown"
	}
}

// Reason は転送失敗の理由。
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonDNS         Reason = "dns"
	ReasonTLS         Reason = "tls"
	ReasonConnection  Reason = "connection"
	ReasonCircuitOpen Reason = "circuit_open"
	ReasonInvalidBody Reason = "invalid_body"
	ReasonCanceled    Reason = "canceled"
	ReasonOther       Reason = "other"
)

// Descriptor は上流への1回の呼び出しを表す。
// Pathは設定済みのバックエンドURLからの相対パスで、ホストの外を指すことはできない。
type Descriptor struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body はJSONにエンコードして送信する。nilの場合はボディなし。
	Body any
	// Timeout は1試行あたりのタイムアウト。0以下の場合はクライアントの既定値を使う。
	Timeout time.Duration
}

// Outcome は上流呼び出しの分類済みの結果。Kindによって意味のあるフィールドが異なる。
type Outcome struct {
	Kind Kind

	// Status はレスポンスを受け取った場合のHTTPステータス。
	Status int
	// Body はレスポンスボディ。Success では常にJSONとして妥当。
	Body json.RawMessage
	// Empty はSuccessでボディが空だったことを示す。
	Empty bool
	// Message はUpstreamErrorでバックエンドから取り出せたエラーメッセージ。
	Message string

	// Reason はTransportFailureの理由。
	Reason Reason
	// Err はTransportFailureの原因となったエラー。ログ用。
	Err error

	// Strategy は結果を生んだ転送戦略名。
	Strategy string
	// Attempts は実際にネットワークへ出た試行回数。
	Attempts int
}

// Data はSuccessのボディからバックエンド共通エンベロープを外したdata部分を返す。
func (o Outcome) Data() (json.RawMessage, error) {
	if o.Empty || len(o.Body) == 0 {
		return nil, nil
	}
	return model.UnwrapBackendData(o.Body)
}

func success(status int, body []byte) Outcome {
	if len(body) == 0 {
		return Outcome{Kind: KindSuccess, Status: status, Empty: true}
	}
	return Outcome{Kind: KindSuccess, Status: status, Body: json.RawMessage(body)}
}

func upstreamError(status int, body []byte) Outcome {
	o := Outcome{
		Kind:    KindUpstreamError,
		Status:  status,
		Message: model.ExtractBackendMessage(body),
	}
	if json.Valid(body) {
		o.Body = json.RawMessage(body)
	}
	return o
}

func transportFailure(reason Reason, err error) Outcome {
	return Outcome{Kind: KindTransportFailure, Reason: reason, Err: err}
}
