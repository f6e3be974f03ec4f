// Package degrade は上流呼び出しの結果とルートの重要度から、
// そのまま応答するか、代替データで応答するか、エラーを返すかを決定する。
package degrade

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/smap-gateway/internal/model"
	"github.com/hitoshi/smap-gateway/internal/upstream"
)

// Sensitivity はルートの重要度。
type Sensitivity int

const (
	// Critical は認証や書き込みなど、失敗を隠してはいけないルート。
	Critical Sensitivity = iota + 1
	// BestEffort は画面表示用の読み取りなど、可用性を優先するルート。
	BestEffort
)

// String はログ用の名前を返す。
func (s Sensitivity) String() string {
	switch s {
	case Critical:
		return "critical"
	case BestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// Action は決定された対応。
type Action int

const (
	// Respond は上流の結果をそのまま返す。
	Respond Action = iota + 1
	// Substitute は代替データを返す。
	Substitute
	// Propagate はエラーを呼び出し元に返す。
	Propagate
)

// String はログ用の名前を返す。
func (a Action) String() string {
	switch a {
	case Respond:
		return "respond"
	case Substitute:
		return "substitute"
	case Propagate:
		return "propagate"
	default:
		return "unknown"
	}
}

// Decision は決定結果。Actionによって意味のあるフィールドが異なる。
type Decision struct {
	Action Action

	// Status はRespondでは上流のステータス、Propagateではクライアントに返すステータス。
	Status int
	// Body はRespondで返す上流のボディ。空のレスポンスではnil。
	Body json.RawMessage
	// Err はPropagateで返すエラー。
	Err *model.APIError

	// Cause は判断の元になった上流の結果。ログ用。
	Cause upstream.Outcome
}

// Decide は上流の結果と重要度から対応を決める。
//   - Success は常にRespond
//   - BestEffortでの失敗はすべてSubstitute
//   - CriticalでのUpstreamErrorは上流のステータスとメッセージのままPropagate
//   - CriticalでのTransportFailureはサービス利用不可としてPropagate
func Decide(out upstream.Outcome, s Sensitivity) Decision {
	d := Decision{Cause: out}

	switch out.Kind {
	case upstream.KindSuccess:
		d.Action = Respond
		d.Status = out.Status
		if d.Status == 0 {
			d.Status = http.StatusOK
		}
		d.Body = out.Body
		return d
	}

	if s == BestEffort {
		d.Action = Substitute
		d.Status = http.StatusOK
		return d
	}

	d.Action = Propagate
	if out.Kind == upstream.KindUpstreamError {
		d.Err = model.NewUpstreamError(out.Status, out.Message)
	} else {
		status := http.StatusServiceUnavailable
		if out.Reason == upstream.ReasonInvalidBody {
			// 応答はあったが読めなかったため、ゲートウェイ側の不正応答として扱う
			status = http.StatusBadGateway
		}
		d.Err = model.NewServiceUnavailableError(status)
	}
	d.Status = d.Err.Status
	return d
}
