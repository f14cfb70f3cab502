package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxPasswordBytes はbcryptが扱える入力長の上限。これを超える部分は黙って無視されるため拒否する。
const maxPasswordBytes = 72

// maxEmailLength はRFC 5321におけるアドレス長の上限。
const maxEmailLength = 320

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail は前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail は正規化済みのメールアドレスが形式として妥当かを判定する。
func ValidEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	return emailPattern.MatchString(email)
}

// ValidPassword はパスワードが最小長（文字数）以上かつbcryptの上限（バイト数）以下かを判定する。
func ValidPassword(password string, minLength int) bool {
	if minLength < 1 {
		minLength = 1
	}
	return utf8.RuneCountInString(password) >= minLength && len(password) <= maxPasswordBytes
}
