// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は氏名・活動内容・審査コメントなどの自由入力テキストから
// HTMLマークアップを除去する。bluemondayのStrictPolicyを使用し、
// すべてのタグと属性を取り除いたプレーンテキストのみを保存する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由入力テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はマークアップを除去し、前後の空白を取り除いたテキストを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(text string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はマークアップを除去したプレーンテキストを返す。
// JSONで返却するため、bluemondayがエスケープした文字実体参照は元に戻す。
func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}
