package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/storerating/internal/model"
)

// MemoryUserRepo はプロセス内メモリでユーザーを保持するリポジトリ。
// 読み取りは並行に、書き込みは排他的に行う。返却値はコピーのため呼び出し側の変更は反映されない。
type MemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*model.User
	byEmail map[string]string
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[model.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

// Create はユーザーを作成する。重複チェックと挿入は同一ロック内で行う。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	key := model.NormalizeEmail(user.Email)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[key]; exists {
		return model.ErrDuplicateEmail
	}
	cp := *user
	r.byID[user.ID] = &cp
	r.byEmail[key] = user.ID
	return nil
}

// CompareAndSetPasswordHash はパスワードハッシュを条件付きで更新する。
func (r *MemoryUserRepo) CompareAndSetPasswordHash(_ context.Context, id, currentHash, newHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || u.PasswordHash == "" || u.PasswordHash != currentHash {
		return false, nil
	}
	u.PasswordHash = newHash
	u.UpdatedAt = time.Now()
	return true, nil
}

// Count は保持しているユーザー数を返す。
func (r *MemoryUserRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// MemorySessionRepo はプロセス内メモリでセッションを保持するリポジトリ。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。nowがnilの場合はtime.Nowを使用する。
func NewMemorySessionRepo(now func() time.Time) *MemorySessionRepo {
	if now == nil {
		now = time.Now
	}
	return &MemorySessionRepo{
		sessions: make(map[string]model.Session),
		now:      now,
	}
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || !s.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return &s, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// DeleteExpired は expires_at が before より前のセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// MemoryRatingRepo はプロセス内メモリで評価を保持するリポジトリ。
type MemoryRatingRepo struct {
	mu      sync.RWMutex
	ratings []model.Rating
}

// NewMemoryRatingRepo はMemoryRatingRepoを生成する。
func NewMemoryRatingRepo() *MemoryRatingRepo {
	return &MemoryRatingRepo{}
}

// Create は評価を追加する。
func (r *MemoryRatingRepo) Create(_ context.Context, rating *model.Rating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ratings = append(r.ratings, *rating)
	return nil
}

// All は保持している評価のコピーを追加順に返す。
func (r *MemoryRatingRepo) All() []model.Rating {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Rating, len(r.ratings))
	copy(out, r.ratings)
	return out
}

// compile-time interface check
var (
	_ UserRepository       = (*MemoryUserRepo)(nil)
	_ SessionRepository    = (*MemorySessionRepo)(nil)
	_ ExpiredSessionPurger = (*MemorySessionRepo)(nil)
	_ RatingRepository     = (*MemoryRatingRepo)(nil)
)
