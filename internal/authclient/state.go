// Package authclient はクライアント側の認証状態と、それを認証APIに同期させるHTTPクライアントを提供する。
package authclient

import (
	"sync"

	"github.com/hitoshi/codedojo/internal/model"
)

// Snapshot はある時点の認証状態のコピー。
type Snapshot struct {
	CurrentUser *model.PublicUser
	Loading     bool
}

// IsAuthenticated はログイン済みかを返す。
func (s Snapshot) IsAuthenticated() bool {
	return s.CurrentUser != nil
}

// State はクライアントの認証状態を保持する。
// 状態を変更するのはClientのInit・Login・Signup・Logoutのみ。
type State struct {
	mu          sync.RWMutex
	currentUser *model.PublicUser
	loading     bool
}

// NewState は未認証かつ読み込み中の状態を生成する。
func NewState() *State {
	return &State{loading: true}
}

// Snapshot は現在の状態のコピーを返す。
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		CurrentUser: copyUser(s.currentUser),
		Loading:     s.loading,
	}
}

// CurrentUser はログイン中のユーザーを返す。未認証ならnil。
func (s *State) CurrentUser() *model.PublicUser {
	return s.Snapshot().CurrentUser
}

// Loading は起動時の認証確認が完了していないかを返す。
func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *State) setUser(user *model.PublicUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = copyUser(user)
}

func (s *State) setLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

func copyUser(user *model.PublicUser) *model.PublicUser {
	if user == nil {
		return nil
	}
	u := *user
	return &u
}
