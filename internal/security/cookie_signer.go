// Package security はアプリケーションのセキュリティ機能を提供する。
//
// CookieSigner はセッションCookieの値にHMAC署名を付与し、
// 改ざんされたCookieをセッションストアに問い合わせる前に弾く。
// NameSanitizer はユーザーが入力した表示名からHTMLを取り除く。
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// CookieSigner はHMAC-SHA256でCookie値に署名・検証する。
// 署名済みの値は "<value>.<base64url(mac)>" の形式になる。
type CookieSigner struct {
	secret []byte
}

// NewCookieSigner はCookieSignerを生成する。
func NewCookieSigner(secret string) *CookieSigner {
	return &CookieSigner{secret: []byte(secret)}
}

// Sign は値に署名を付与した文字列を返す。
func (s *CookieSigner) Sign(value string) string {
	return value + "." + s.mac(value)
}

// Verify は署名済み文字列を検証し、元の値を返す。
// 形式不正または署名不一致の場合はfalseを返す。
func (s *CookieSigner) Verify(signed string) (string, bool) {
	i := strings.LastIndexByte(signed, '.')
	if i <= 0 || i == len(signed)-1 {
		return "", false
	}

	value, sig := signed[:i], signed[i+1:]
	expected := s.mac(value)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return value, true
}

func (s *CookieSigner) mac(value string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
