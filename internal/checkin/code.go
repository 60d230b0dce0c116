// Package checkin はミーティングのチェックイン受付と、ローテーションするチェックインコードを管理する。
package checkin

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// CodeAlphabet はチェックインコードに使用する32文字。
// 読み間違えやすい0/O、1/Iを除いている。
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength はチェックインコードの文字数。
const DefaultCodeLength = 6

// DefaultCodeTTL はコードの既定の有効期間。
const DefaultCodeTTL = 60 * time.Second

// GenerateCode は暗号論的乱数でlength文字のコードを生成する。
// アルファベットが32文字のため、乱数バイトの下位5ビットで偏りなく選択できる。
func GenerateCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = CodeAlphabet[b&31]
	}
	return string(buf), nil
}

// NormalizeCode は入力されたコードを比較用に正規化する（前後の空白除去、大文字化）。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
