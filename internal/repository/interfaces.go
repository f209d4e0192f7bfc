// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/storerating/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// メールアドレスは正規化済み（model.NormalizeEmail）の値を受け取る。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが既に存在する場合はmodel.ErrDuplicateEmailを返す。
	// 一意性はストア側の制約で保証し、呼び出し側の事前チェックに依存しない。
	Create(ctx context.Context, user *model.User) error

	// CompareAndSetPasswordHash はパスワードハッシュがcurrentHashと一致する場合のみnewHashへ更新する。
	// 更新した場合はtrueを返す。
	CompareAndSetPasswordHash(ctx context.Context, id, currentHash, newHash string) (bool, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ExpiredSessionPurger は失効済みセッションを一括削除する。
type ExpiredSessionPurger interface {
	// DeleteExpired は expires_at が before より前のセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RatingRepository は評価データの永続化インターフェース。
// 評価は追記のみで、更新・削除は行わない。
type RatingRepository interface {
	// Create は評価を1件作成する。同一ユーザー・同一店舗の評価も独立した行として追加する。
	Create(ctx context.Context, rating *model.Rating) error
}
