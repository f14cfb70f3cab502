// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashはサーバー外に出さない。JSONタグを付けないのはそのため。
type User struct {
	ID           string
	FullName     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser はクライアントに返してよいユーザー情報の射影。
type PublicUser struct {
	ID        string    `json:"id"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public はUserの公開用射影を返す。
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:        u.ID,
		FullName:  u.FullName,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

// Session はユーザーのログインセッションを表す。
// ExpiresAtは絶対期限、LastSeenAtはアイドルタイムアウト判定に使う。
type Session struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// IsExpired は指定時刻においてセッションが失効しているかを判定する。
// idleTimeoutが0以下の場合はアイドル判定を行わない。
func (s *Session) IsExpired(now time.Time, idleTimeout time.Duration) bool {
	if !now.Before(s.ExpiresAt) {
		return true
	}
	if idleTimeout > 0 && now.Sub(s.LastSeenAt) > idleTimeout {
		return true
	}
	return false
}
