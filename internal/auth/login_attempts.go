package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LoginState はプロバイダー経由ログイン1回分の状態。
type LoginState string

const (
	LoginUnauthenticated  LoginState = "unauthenticated"
	LoginPendingProvider  LoginState = "pending_provider"
	LoginProviderCallback LoginState = "provider_callback"
	LoginAuthenticated    LoginState = "authenticated"
	LoginFailed           LoginState = "failed"
)

const (
	defaultLoginAttemptCapacity = 10000
	defaultLoginStateTTL        = 10 * time.Minute
)

type loginAttempt struct {
	state LoginState
}

// LoginAttempts はstateパラメータをキーにログイン試行の状態を保持する。
// 完了・失敗した試行もTTLまで残し、同じstateでの再コールバックを失敗として扱う。
type LoginAttempts struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *loginAttempt]
}

// NewLoginAttempts はLoginAttemptsを生成する。容量を超えた場合は古い試行から破棄される。
func NewLoginAttempts(capacity int, ttl time.Duration) *LoginAttempts {
	if capacity <= 0 {
		capacity = defaultLoginAttemptCapacity
	}
	if ttl <= 0 {
		ttl = defaultLoginStateTTL
	}
	return &LoginAttempts{
		cache: expirable.NewLRU[string, *loginAttempt](capacity, nil, ttl),
	}
}

// Begin は新しいstateを発行し、試行をPendingProviderとして登録する。
func (a *LoginAttempts) Begin() (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	a.cache.Add(state, &loginAttempt{state: LoginPendingProvider})
	return state, nil
}

// Claim はPendingProviderの試行をProviderCallbackへ遷移させる。
// 遷移はstateごとに一度だけ成功し、未知・期限切れ・処理済みのstateは ErrLoginFailed を返す。
func (a *LoginAttempts) Claim(state string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	attempt, ok := a.cache.Get(state)
	if !ok {
		return fmt.Errorf("%w: unknown or expired state", ErrLoginFailed)
	}
	if attempt.state != LoginPendingProvider {
		attempt.state = LoginFailed
		return fmt.Errorf("%w: state already used", ErrLoginFailed)
	}
	attempt.state = LoginProviderCallback
	return nil
}

// Complete はProviderCallbackの試行を終端状態へ遷移させる。
func (a *LoginAttempts) Complete(state string, succeeded bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	attempt, ok := a.cache.Get(state)
	if !ok || attempt.state != LoginProviderCallback {
		return
	}
	if succeeded {
		attempt.state = LoginAuthenticated
	} else {
		attempt.state = LoginFailed
	}
}

// State は試行の現在の状態を返す。記録がない場合は LoginUnauthenticated。
func (a *LoginAttempts) State(state string) LoginState {
	a.mu.Lock()
	defer a.mu.Unlock()

	attempt, ok := a.cache.Get(state)
	if !ok {
		return LoginUnauthenticated
	}
	return attempt.state
}

// generateState はCSRF対策用のランダムなstateを生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
