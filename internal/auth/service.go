// Package auth はメールアドレスとパスワードによる認証フローとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/codedojo/internal/model"
	"github.com/hitoshi/codedojo/internal/repository"
	"github.com/hitoshi/codedojo/internal/security"
)

// dummyPassword は存在しないユーザーへのログイン試行でも
// bcrypt照合を1回行い、応答時間からアカウントの有無を推測させないために使う。
const dummyPassword = "codedojo-timing-equalizer"

// 認証結果のラベル。メトリクスに使う。
const (
	ResultSuccess       = "success"
	ResultInvalid       = "invalid"
	ResultDuplicate     = "duplicate"
	ResultError         = "error"
	ResultUnauthorized  = "unauthenticated"
	ResultAuthenticated = "authenticated"
)

// MetricsRecorder は認証イベントを記録するインターフェース。
type MetricsRecorder interface {
	RecordSignup(result string)
	RecordLogin(result string)
	RecordLogout()
	RecordSessionCheck(result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge     int           // セッションの絶対有効期間（秒）
	IdleTimeout       time.Duration // 無操作で失効するまでの時間。0で無効
	PasswordMinLength int           // パスワードの最小文字数
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	sanitizer   security.NameSanitizer
	metrics     MetricsRecorder
	config      ServiceConfig
	dummyHash   string
	now         func() time.Time
}

// NewService はServiceを生成する。
// metricsはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	sanitizer security.NameSanitizer,
	metrics MetricsRecorder,
	config ServiceConfig,
) (*Service, error) {
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	if config.PasswordMinLength < 1 {
		config.PasswordMinLength = 1
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		sanitizer:   sanitizer,
		metrics:     metrics,
		config:      config,
		dummyHash:   dummyHash,
		now:         time.Now,
	}, nil
}

// Signup は新規ユーザーを登録し、セッションを発行する。
// 入力不正・登録済みメールアドレスの場合は*model.APIErrorを返す。
// currentSessionIDが指定された場合、Loginと同様にそのセッションを破棄する。
func (s *Service) Signup(ctx context.Context, fullName, email, password, currentSessionID string) (*model.User, *model.Session, error) {
	name := s.sanitizer.Sanitize(fullName)
	if name == "" {
		s.metrics.RecordSignup(ResultInvalid)
		return nil, nil, model.NewInvalidFullNameError()
	}

	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		s.metrics.RecordSignup(ResultInvalid)
		return nil, nil, model.NewInvalidEmailError()
	}

	if !ValidPassword(password, s.config.PasswordMinLength) {
		s.metrics.RecordSignup(ResultInvalid)
		return nil, nil, model.NewWeakPasswordError(s.config.PasswordMinLength)
	}

	// 1. 登録済みかを確認（競合時は一意制約で検出する）
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordSignup(ResultError)
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		s.metrics.RecordSignup(ResultDuplicate)
		return nil, nil, model.NewEmailTakenError()
	}

	// 2. パスワードをハッシュ化してユーザーを作成
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.metrics.RecordSignup(ResultError)
		return nil, nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		FullName:     name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.metrics.RecordSignup(ResultDuplicate)
			return nil, nil, model.NewEmailTakenError()
		}
		s.metrics.RecordSignup(ResultError)
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	// 3. セッションを発行
	s.discardPrevious(ctx, currentSessionID)
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		s.metrics.RecordSignup(ResultError)
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordSignup(ResultSuccess)
	slog.Info("new user signed up",
		slog.String("user_id", user.ID),
		slog.String("session", Fingerprint(session.ID)),
	)

	return user, session, nil
}

// Login は資格情報を検証し、セッションを発行する。
// ユーザー不在とパスワード不一致は同一のエラーを返す。
// currentSessionIDが指定された場合、そのセッションは破棄してから新しいセッションを発行する。
func (s *Service) Login(ctx context.Context, email, password, currentSessionID string) (*model.User, *model.Session, error) {
	email = NormalizeEmail(email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordLogin(ResultError)
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}

	hash := s.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}

	if err := s.hasher.Compare(hash, password); err != nil || user == nil {
		if err != nil && !errors.Is(err, ErrPasswordMismatch) {
			slog.Warn("password comparison failed", slog.String("error", err.Error()))
		}
		s.metrics.RecordLogin(ResultInvalid)
		return nil, nil, model.NewInvalidCredentialsError()
	}

	s.discardPrevious(ctx, currentSessionID)
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		s.metrics.RecordLogin(ResultError)
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordLogin(ResultSuccess)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("session", Fingerprint(session.ID)),
	)

	return user, session, nil
}

// Logout はセッションを破棄する。
// セッションIDが空、または既に存在しない場合も成功として扱う（冪等）。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	s.metrics.RecordLogout()

	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session", Fingerprint(sessionID)))
	return nil
}

// CheckSession はセッションIDからユーザーを解決する。
// 未認証（ID未指定・不明・期限切れ・ユーザー削除済み）の場合はnil, nilを返す。
// エラーを返すのはストアへのアクセスに失敗した場合のみ。
func (s *Service) CheckSession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		s.metrics.RecordSessionCheck(ResultUnauthorized)
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		s.metrics.RecordSessionCheck(ResultError)
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		s.metrics.RecordSessionCheck(ResultUnauthorized)
		return nil, nil
	}

	now := s.now()
	if session.IsExpired(now, s.config.IdleTimeout) {
		s.discardSession(ctx, sessionID, "session expired")
		s.metrics.RecordSessionCheck(ResultUnauthorized)
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		s.metrics.RecordSessionCheck(ResultError)
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.discardSession(ctx, sessionID, "session user no longer exists")
		s.metrics.RecordSessionCheck(ResultUnauthorized)
		return nil, nil
	}

	// アイドルタイムアウト用に最終アクセス時刻を更新する。失敗しても認証結果は変えない
	if err := s.sessionRepo.Touch(ctx, sessionID, now); err != nil {
		slog.Warn("failed to touch session",
			slog.String("session", Fingerprint(sessionID)),
			slog.String("error", err.Error()),
		)
	}

	s.metrics.RecordSessionCheck(ResultAuthenticated)
	return user, nil
}

// discardPrevious はセッション固定化対策として、認証前から持ち込まれたセッションを破棄する。
// 削除失敗は新しいセッションの発行を妨げない。
func (s *Service) discardPrevious(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		slog.Warn("failed to discard previous session",
			slog.String("session", Fingerprint(sessionID)),
			slog.String("error", err.Error()),
		)
	}
}

// discardSession は無効と判明したセッションを削除する。削除失敗はログのみ。
func (s *Service) discardSession(ctx context.Context, sessionID, reason string) {
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		slog.Warn("failed to delete invalid session",
			slog.String("session", Fingerprint(sessionID)),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Info(reason, slog.String("session", Fingerprint(sessionID)))
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:         sessionID,
		UserID:     userID,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Fingerprint はセッションIDをログに出せる短いハッシュに変換する。
// セッションIDそのものはログに残さない。
func Fingerprint(sessionID string) string {
	if strings.TrimSpace(sessionID) == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:4])
}

type noopMetrics struct{}

func (noopMetrics) RecordSignup(string)       {}
func (noopMetrics) RecordLogin(string)        {}
func (noopMetrics) RecordLogout()             {}
func (noopMetrics) RecordSessionCheck(string) {}
