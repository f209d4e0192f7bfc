// Package auth はBearerトークン、プロバイダー経由のログインフロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/storerating/internal/model"
	"github.com/hitoshi/storerating/internal/repository"
	"github.com/hitoshi/storerating/internal/user"
)

var (
	// ErrLoginFailed はプロバイダー経由のログインが失敗したことを表す。
	ErrLoginFailed = errors.New("login failed")
	// ErrSessionNotFound はセッションが存在しないか期限切れであることを表す。
	ErrSessionNotFound = errors.New("session not found")
)

// UserDirectory はセッション認証が必要とするユーザー操作。
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	CreateOrGetFederated(ctx context.Context, profile user.FederatedProfile) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）。作成時からの絶対期限で延長しない。
}

// Service はプロバイダー経由のログインとセッションのライフサイクルを管理する。
type Service struct {
	oauth       OAuthProvider
	users       UserDirectory
	sessionRepo repository.SessionRepository
	attempts    *LoginAttempts
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	users UserDirectory,
	sessionRepo repository.SessionRepository,
	attempts *LoginAttempts,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		users:       users,
		sessionRepo: sessionRepo,
		attempts:    attempts,
		config:      config,
		now:         time.Now,
	}
}

// BeginLogin はログイン試行を開始し、stateとプロバイダーの認証URLを返す。
func (s *Service) BeginLogin(_ context.Context) (string, string, error) {
	state, err := s.attempts.Begin()
	if err != nil {
		return "", "", err
	}
	return state, s.oauth.AuthCodeURL(state), nil
}

// HandleCallback はプロバイダーからのコールバックを処理し、セッションを発行する。
// 同じstateでのコールバックは一度だけ処理され、2回目以降は ErrLoginFailed になる。
// codeが空の場合（利用者がプロバイダー側で拒否した場合など）も試行を Failed にする。
func (s *Service) HandleCallback(ctx context.Context, state, code string) (_ *model.Session, _ *model.User, err error) {
	if err := s.attempts.Claim(state); err != nil {
		return nil, nil, err
	}
	defer func() { s.attempts.Complete(state, err == nil) }()

	if code == "" {
		return nil, nil, fmt.Errorf("%w: no authorization code", ErrLoginFailed)
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	provided, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to exchange oauth code: %w", ErrLoginFailed, err)
	}

	// 2. メールアドレスでユーザーを特定し、存在しなければ作成
	u, err := s.users.CreateOrGetFederated(ctx, user.FederatedProfile{
		Name:  provided.Name,
		Email: provided.Email,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to resolve user: %w", ErrLoginFailed, err)
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, u.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	slog.Info("user logged in via provider",
		slog.String("user_id", u.ID),
		slog.String("provider", provided.Provider),
	)
	return session, u, nil
}

// ResolveSession はセッションIDから現在のユーザーを取得する。
// ロールはセッションではなくユーザーレコードから毎回読み直す。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	u, err := s.users.FindByID(ctx, session.UserID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionNotFound
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// LoginState はstateに対応するログイン試行の状態を返す。
func (s *Service) LoginState(state string) LoginState {
	return s.attempts.State(state)
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
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
