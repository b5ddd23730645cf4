// Package security はアプリケーションのセキュリティ機能を提供する。
//
// メッセージ本文はHTMLではなくプレーンテキストとして保存・配信する。
// 描画時のエスケープはクライアントが行い、サーバーは本文の文字を書き換えない。
package security

import (
	"strings"
	"unicode"
)

// MessageSanitizer はメッセージ本文のサニタイズ機能のインターフェース。
type MessageSanitizer interface {
	// Sanitize は表示を乱す制御文字を除いたプレーンテキストを返す。
	// 出力を再度Sanitizeしても変化しない。
	Sanitize(body string) string
}

type messageSanitizer struct{}

// NewMessageSanitizer はMessageSanitizerを生成する。
func NewMessageSanitizer() MessageSanitizer {
	return messageSanitizer{}
}

// Sanitize は不正なUTF-8を置換文字にし、改行とタブ以外の制御文字と
// 双方向テキストの埋め込み・上書き文字を除去する。
// "<" や "&" を含む本文はそのまま残る。
func (messageSanitizer) Sanitize(body string) string {
	if body == "" {
		return ""
	}
	body = strings.ToValidUTF8(body, string(unicode.ReplacementChar))
	return strings.Map(keepRune, body)
}

func keepRune(r rune) rune {
	switch {
	case r == '\n' || r == '\t':
		return r
	case unicode.IsControl(r), isBidiControl(r):
		return -1
	default:
		return r
	}
}

// isBidiControl はU+202A..U+202EとU+2066..U+2069を判定する。
func isBidiControl(r rune) bool {
	return (r >= '\u202a' && r <= '\u202e') || (r >= '\u2066' && r <= '\u2069')
}
