package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はチャット応答やスキャン結果などバックエンドが生成したテキストを
// HTMLとして表示できる形に整える。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// 許可するのは段落・改行・強調・リスト・コードのみで、リンクと画像は除去する。
func NewTextSanitizer() *TextSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"pre", "code", "strong", "em", "b", "i",
	)
	return &TextSanitizer{policy: p}
}

// Sanitize は改行を<br>に変換したうえで許可リスト外のタグと属性を除去する。
// 空文字列には空文字列を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\n", "<br>")
	return s.policy.Sanitize(text)
}
