package authclient

import (
	"errors"
	"fmt"

	"github.com/hitoshi/codedojo/internal/model"
)

// Kind はUIが表示を切り替えるためのエラー種別。
type Kind string

const (
	KindValidation     Kind = "validation"
	KindWeakCredential Kind = "weak_credential"
	KindAuthentication Kind = "authentication"
	KindSession        Kind = "session"
	KindTransport      Kind = "transport"
)

// ErrRequestInFlight はログインまたはサインアップの送信中に再度送信しようとした場合に返る。
var ErrRequestInFlight = errors.New("authclient: request already in flight")

// Error は認証APIの失敗を表す。Messageはサーバーが返したユーザー向けメッセージ。
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// kindFromCategory はサーバーのエラーカテゴリをKindに変換する。
// system等の未知のカテゴリはtransportとして扱う。
func kindFromCategory(category string) Kind {
	switch category {
	case model.CategoryValidation:
		return KindValidation
	case model.CategoryWeakCredential:
		return KindWeakCredential
	case model.CategoryAuthentication:
		return KindAuthentication
	case model.CategorySession:
		return KindSession
	default:
		return KindTransport
	}
}

func transportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}
