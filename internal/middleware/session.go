// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/codedojo/internal/model"
	"github.com/hitoshi/codedojo/internal/security"
)

// SessionCookieName はセッションIDを運ぶCookieの名前。
const SessionCookieName = "sid"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey    = contextKey("user_id")
	userContextKey      = contextKey("user")
	sessionIDContextKey = contextKey("session_id")
)

// SessionResolver はセッションIDからユーザーを解決するインターフェース。
// 未認証の場合はnil, nilを返す。auth.Serviceが実装する。
type SessionResolver interface {
	CheckSession(ctx context.Context, sessionID string) (*model.User, error)
}

// SessionCookieConfig はセッションCookieの属性。
type SessionCookieConfig struct {
	Secure bool
	Domain string
	MaxAge int // 秒
}

// SessionCookie は署名付きセッションCookieの読み書きを行う。
type SessionCookie struct {
	signer *security.CookieSigner
	config SessionCookieConfig
}

// NewSessionCookie はSessionCookieを生成する。
func NewSessionCookie(signer *security.CookieSigner, config SessionCookieConfig) *SessionCookie {
	return &SessionCookie{signer: signer, config: config}
}

// Set はセッションIDに署名してCookieに設定する。
func (c *SessionCookie) Set(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    c.signer.Sign(sessionID),
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   c.config.MaxAge,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear はセッションCookieを削除する。
func (c *SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read はリクエストのCookieから署名を検証したセッションIDを返す。
// Cookieがない、または署名が不正な場合は空文字列を返す。
func (c *SessionCookie) Read(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	sessionID, ok := c.signer.Verify(cookie.Value)
	if !ok {
		slog.Warn("session cookie signature mismatch",
			slog.String("path", r.URL.Path),
		)
		return ""
	}
	return sessionID
}

// NewSessionMiddleware はセッションCookieを検証し、認証済みユーザーを
// リクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(resolver SessionResolver, cookie *SessionCookie) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			sessionID := cookie.Read(r)
			if sessionID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. セッションの有効性を検証
			user, err := resolver.CheckSession(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to check session", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				cookie.Clear(w)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 認証済みユーザーをコンテキストに注入
			ctx := contextWithSession(r.Context(), sessionID, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOptionalSessionMiddleware はセッションが有効な場合のみユーザーを注入し、
// 未認証でもリクエストを通過させるミドルウェアを返す。
// ストア障害時は未認証とは区別して500を返し、Cookieには触れない。
func NewOptionalSessionMiddleware(resolver SessionResolver, cookie *SessionCookie) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := cookie.Read(r)
			if sessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := resolver.CheckSession(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to check session", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := contextWithSession(r.Context(), sessionID, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contextWithSession(ctx context.Context, sessionID string, user *model.User) context.Context {
	ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	return ContextWithUser(ctx, user)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。未認証ならnil。
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

// SessionIDFromContext はリクエストコンテキストから検証済みのセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	setLoggedUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithUser はコンテキストにユーザーとそのIDを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return ContextWithUserID(ctx, user.ID)
}
