package model

import (
	"encoding/json"
	"fmt"
)

// BackendMember はバックエンドが返す会員レコード。
// パスワードハッシュやプッシュトークン等、クライアントに出してはならない項目を含む。
type BackendMember struct {
	MtIdx      int64   `json:"mt_idx"`
	MtID       string  `json:"mt_id"`
	MtPwd      string  `json:"mt_pwd,omitempty"`
	MtName     string  `json:"mt_name"`
	MtNickname string  `json:"mt_nickname"`
	MtHp       string  `json:"mt_hp"`
	MtEmail    string  `json:"mt_email"`
	MtBirth    string  `json:"mt_birth"`
	MtGender   int     `json:"mt_gender"`
	MtType     int     `json:"mt_type"`
	MtLevel    int     `json:"mt_level"`
	MtFile1    string  `json:"mt_file1"`
	MtTokenID  string  `json:"mt_token_id,omitempty"`
	MtLat      float64 `json:"mt_lat"`
	MtLong     float64 `json:"mt_long"`
}

// Member はクライアントに返す会員情報。
type Member struct {
	MtIdx        int64  `json:"mt_idx"`
	MtID         string `json:"mt_id"`
	MtName       string `json:"mt_name"`
	MtNickname   string `json:"mt_nickname"`
	MtHp         string `json:"mt_hp"`
	MtEmail      string `json:"mt_email"`
	MtBirth      string `json:"mt_birth"`
	MtGender     int    `json:"mt_gender"`
	MtType       int    `json:"mt_type"`
	MtLevel      int    `json:"mt_level"`
	ProfileImage string `json:"mt_file1"`
}

// ToMember はバックエンドの会員レコードをクライアント向けに変換する。
// 秘匿項目（mt_pwd、mt_token_id）はここで落とす。
func ToMember(b BackendMember) Member {
	hp := b.MtHp
	if hp == "" {
		hp = b.MtID
	}
	return Member{
		MtIdx:        b.MtIdx,
		MtID:         b.MtID,
		MtName:       b.MtName,
		MtNickname:   b.MtNickname,
		MtHp:         hp,
		MtEmail:      b.MtEmail,
		MtBirth:      b.MtBirth,
		MtGender:     b.MtGender,
		MtType:       b.MtType,
		MtLevel:      b.MtLevel,
		ProfileImage: b.MtFile1,
	}
}

// DecodeBackendMember はバックエンドのdata部分から会員レコードを取り出す。
// {"member": {...}} 形式と会員オブジェクト直下の形式の両方を受け付ける。
func DecodeBackendMember(raw json.RawMessage) (BackendMember, error) {
	var wrapped struct {
		Member *BackendMember `json:"member"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return BackendMember{}, fmt.Errorf("failed to decode member: %w", err)
	}
	if wrapped.Member != nil {
		return validMember(*wrapped.Member)
	}

	var m BackendMember
	if err := json.Unmarshal(raw, &m); err != nil {
		return BackendMember{}, fmt.Errorf("failed to decode member: %w", err)
	}
	return validMember(m)
}

func validMember(m BackendMember) (BackendMember, error) {
	if m.MtIdx <= 0 {
		return BackendMember{}, fmt.Errorf("member has no valid mt_idx")
	}
	return m, nil
}

// LoginRequest はログインリクエスト。mt_idは携帯電話番号。
type LoginRequest struct {
	MtID  string `json:"mt_id" validate:"required,phone"`
	MtPwd string `json:"mt_pwd" validate:"required"`
}

// RegisterRequest は会員登録リクエスト。
type RegisterRequest struct {
	MtID       string `json:"mt_id" validate:"required,phone"`
	MtPwd      string `json:"mt_pwd" validate:"required,min=6,max=64"`
	MtName     string `json:"mt_name" validate:"required,max=30"`
	MtNickname string `json:"mt_nickname" validate:"omitempty,max=30"`
	MtEmail    string `json:"mt_email" validate:"omitempty,email"`
	MtBirth    string `json:"mt_birth" validate:"omitempty,datetime=2006-01-02"`
	MtGender   int    `json:"mt_gender" validate:"omitempty,oneof=1 2"`
}

// ChangePasswordRequest はパスワード変更リクエスト。
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6,max=64,nefield=CurrentPassword"`
}

// LoginResult はログイン・会員登録成功時のdata部分。
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	Member    Member `json:"member"`
}

// SendVerificationRequest は認証番号送信リクエスト。
type SendVerificationRequest struct {
	MtHp string `json:"mt_hp" validate:"required,phone"`
}

// VerifyCodeRequest は認証番号確認リクエスト。
type VerifyCodeRequest struct {
	MtHp string `json:"mt_hp" validate:"required,phone"`
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// BackendSMSRequest はSMS送信時にバックエンドへ送るボディ。
type BackendSMSRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// BackendChangePasswordRequest はパスワード変更時にバックエンドへ送るボディ。
type BackendChangePasswordRequest struct {
	MtIdx           int64  `json:"mt_idx"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// BackendRegisterRequest は会員登録時にバックエンドへ送るボディ。
// mt_hpは認証済みの携帯電話番号で、mt_idと同じ値を送る。
type BackendRegisterRequest struct {
	MtID       string `json:"mt_id"`
	MtPwd      string `json:"mt_pwd"`
	MtHp       string `json:"mt_hp"`
	MtName     string `json:"mt_name"`
	MtNickname string `json:"mt_nickname,omitempty"`
	MtEmail    string `json:"mt_email,omitempty"`
	MtBirth    string `json:"mt_birth,omitempty"`
	MtGender   int    `json:"mt_gender,omitempty"`
}
