// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はクライアントから受け取った自由入力テキスト（グループ名、メモ、予定タイトルなど）から
// HTMLタグを取り除き、バックエンドへ転送する前にプレーンテキストにする。
// bluemondayのStrictPolicyで全タグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は自由入力テキストのサニタイズ機能のインターフェース。
type TextSanitizerService interface {
	// Sanitize はHTMLタグを除去したプレーンテキストを返す。
	// 前後の空白は取り除く。同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy   *bluemonday.Policy
	brackets *strings.Replacer
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy:   bluemonday.StrictPolicy(),
		brackets: strings.NewReplacer("<", "", ">", ""),
	}
}

// maxSanitizeRounds はタグ除去と実体参照の復元を繰り返す上限。
const maxSanitizeRounds = 4

// Sanitize はタグを除去し、エスケープされた文字を元に戻す。
// 復元した文字列にタグが現れる間は除去を繰り返すため、タグにならない「<」「>」はそのまま残る。
// 上限回数で安定しない入力は山括弧をすべて取り除く。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := raw
	for i := 0; i < maxSanitizeRounds; i++ {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
	return strings.TrimSpace(s.brackets.Replace(text))
}

// SanitizePtr はnilを保ったままポインタの指す文字列をサニタイズする。
func SanitizePtr(s TextSanitizerService, raw *string) *string {
	if raw == nil {
		return nil
	}
	clean := s.Sanitize(*raw)
	return &clean
}
