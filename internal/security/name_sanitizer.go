package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxFullNameLength は表示名として保持する最大文字数。
const MaxFullNameLength = 100

// NameSanitizer はユーザー入力の表示名を保存可能な形に整える。
type NameSanitizer interface {
	// Sanitize はHTMLタグを除去し、連続する空白を1つにまとめ、
	// MaxFullNameLength文字に切り詰めた文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのStrictPolicyは全タグを除去する。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() NameSanitizer {
	return &nameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はNameSanitizerを実装する。
func (s *nameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyは & や ' をエンティティに変換するので、保存前に元に戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > MaxFullNameLength {
		cleaned = string([]rune(cleaned)[:MaxFullNameLength])
	}
	return cleaned
}
