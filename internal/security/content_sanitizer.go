package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はfront-matter由来の文字列からHTMLを取り除く。
type TextSanitizer interface {
	// StripHTML は全てのタグを除去し、前後の空白を落としたプレーンテキストを返す。
	StripHTML(raw string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// StripHTML はタグを除去する。
// 出力はJSONで返すため、bluemondayが付けるエンティティはデコードして戻す。
func (s *textSanitizer) StripHTML(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
