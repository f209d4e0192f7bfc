// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role はユーザーの役割を表す。値は閉じた3種類に限定される。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleStoreOwner は店舗オーナー。
	RoleStoreOwner Role = "store-owner"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// Roles は定義済みの全ロールを返す。
func Roles() []Role {
	return []Role{RoleUser, RoleStoreOwner, RoleAdmin}
}

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleStoreOwner, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole は文字列をRoleに変換する。未定義の値はErrInvalidRoleを返す。
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// User はサービス利用ユーザーを表す。
// PasswordHashはローカル登録ユーザーのみ保持し、プロバイダー経由のユーザーは空。
type User struct {
	ID           string
	Name         string
	Email        string
	Address      string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はローカルパスワードが設定されているかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// NormalizeEmail は比較・保存用にメールアドレスを正規化する。
// メールアドレスの一意性は大文字小文字を区別しない。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AuthChannel は呼び出し元を認証した経路を表す。
type AuthChannel string

const (
	// AuthChannelToken はBearerトークンによる認証。
	AuthChannelToken AuthChannel = "token"
	// AuthChannelSession はセッションCookieによる認証。
	AuthChannelSession AuthChannel = "session"
)

// Identity はリクエスト単位で解決された呼び出し元。永続化しない。
// SessionID はセッションチャネルで解決した場合のみ設定される。
type Identity struct {
	UserID    string
	Role      Role
	Channel   AuthChannel
	SessionID string
}
