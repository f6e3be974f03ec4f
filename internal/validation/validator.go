// Package validation はgo-playground/validatorによるリクエスト検証を提供する。
// 検証エラーはフィールド単位のmodel.APIErrorに変換する。
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/smap-gateway/internal/model"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// phonePattern は国内の携帯電話番号（ハイフンなし）。
var phonePattern = regexp.MustCompile(`^01[016789][0-9]{7,8}$`)

// GetValidator はシングルトンのvalidatorを返す。
// フィールド名はJSONタグの名前で報告する。
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})

		_ = validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// IsPhone は携帯電話番号の形式かを判定する。
func IsPhone(s string) bool {
	return phonePattern.MatchString(s)
}

// Struct は構造体を検証し、最初に失敗したフィールドのエラーを返す。
// 問題がなければnilを返す。
func Struct(s any) *model.APIError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return model.NewValidationError("", "입력값이 올바르지 않습니다.")
	}

	fe := fieldErrs[0]
	return model.NewValidationError(fe.Field(), message(fe))
}

// message はタグごとのユーザー向けメッセージを返す。
func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " 항목은 필수입니다."
	case "phone":
		return "휴대폰 번호 형식이 올바르지 않습니다."
	case "email":
		return "이메일 형식이 올바르지 않습니다."
	case "min":
		return fe.Field() + " 항목은 최소 " + fe.Param() + "자 이상이어야 합니다."
	case "max":
		return fe.Field() + " 항목은 최대 " + fe.Param() + "자까지 입력할 수 있습니다."
	case "len":
		return fe.Field() + " 항목은 " + fe.Param() + "자리여야 합니다."
	case "numeric":
		return fe.Field() + " 항목은 숫자만 입력할 수 있습니다."
	case "datetime":
		return fe.Field() + " 항목의 날짜 형식이 올바르지 않습니다."
	case "oneof":
		return fe.Field() + " 항목은 " + fe.Param() + " 중 하나여야 합니다."
	case "nefield":
		return "새 비밀번호는 현재 비밀번호와 달라야 합니다."
	case "latitude", "longitude":
		return fe.Field() + " 항목의 좌표가 올바르지 않습니다."
	case "gt":
		return fe.Field() + " 항목은 " + fe.Param() + "보다 커야 합니다."
	default:
		return fe.Field() + " 항목이 올바르지 않습니다."
	}
}
