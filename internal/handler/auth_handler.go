package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/codedojo/internal/auth"
	"github.com/hitoshi/codedojo/internal/middleware"
	"github.com/hitoshi/codedojo/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, fullName, email, password, currentSessionID string) (*model.User, *model.Session, error)
	Login(ctx context.Context, email, password, currentSessionID string) (*model.User, *model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	CheckSession(ctx context.Context, sessionID string) (*model.User, error)
}

type signupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	User *model.PublicUser `json:"user"`
}

type checkAuthResponse struct {
	IsAuthenticated bool              `json:"isAuthenticated"`
	User            *model.PublicUser `json:"user,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// AuthHandler はメールアドレス・パスワード認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookie  *middleware.SessionCookie
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookie *middleware.SessionCookie) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookie:  cookie,
	}
}

// Signup は新規ユーザーを登録し、セッションCookieを発行する。
// 既存のセッションCookieがあればLoginと同様に破棄する。
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, session, err := h.service.Signup(r.Context(), req.FullName, req.Email, req.Password, h.cookie.Read(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.cookie.Set(w, session.ID)
	writeJSON(w, http.StatusCreated, userResponse{User: user.Public()})
}

// Login は資格情報を検証し、セッションCookieを発行する。
// 既存のセッションCookieがあれば破棄してから新しいセッションを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, session, err := h.service.Login(r.Context(), req.Email, req.Password, h.cookie.Read(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.cookie.Set(w, session.ID)
	writeJSON(w, http.StatusOK, userResponse{User: user.Public()})
}

// Logout はセッションを破棄する。失敗してもCookieは必ずクリアする。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := h.cookie.Read(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout",
				slog.String("session", auth.Fingerprint(sessionID)),
				slog.String("error", err.Error()),
			)
		}
	}

	h.cookie.Clear(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// CheckAuth は現在のセッションの認証状態を返す。
// 未認証は常に200 {isAuthenticated:false}で返し、エラーにはしない。
// NewOptionalSessionMiddlewareの後に配置する。
// GET /api/auth/check-auth
func (h *AuthHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		// 無効なCookieが残っていれば消しておく
		if _, err := r.Cookie(middleware.SessionCookieName); err == nil {
			h.cookie.Clear(w)
		}
		writeJSON(w, http.StatusOK, checkAuthResponse{IsAuthenticated: false})
		return
	}

	writeJSON(w, http.StatusOK, checkAuthResponse{
		IsAuthenticated: true,
		User:            user.Public(),
	})
}
