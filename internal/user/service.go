// Package user はユーザー資格情報の管理を提供する。
// ユーザーレコードの作成・検索・パスワード検証・パスワード更新を担う。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/storerating/internal/model"
	"github.com/hitoshi/storerating/internal/repository"
)

// DefaultBcryptCost はパスワードハッシュのデフォルトコスト。
const DefaultBcryptCost = 10

// LocalRegistration はローカル登録の入力値。
type LocalRegistration struct {
	Name     string
	Email    string
	Address  string
	Password string
}

// FederatedProfile は外部プロバイダーから受け取ったプロフィール。
type FederatedProfile struct {
	Name  string
	Email string
}

// Service はユーザー資格情報のサービス層。
type Service struct {
	userRepo repository.UserRepository

	// BcryptCost はハッシュ生成時のコスト。テストでは bcrypt.MinCost を設定する。
	BcryptCost int

	now   func() time.Time
	newID func() string

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo:   userRepo,
		BcryptCost: DefaultBcryptCost,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// FindByEmail はメールアドレスでユーザーを取得する。
// 見つからない場合は model.ErrNotFound を返す。
func (s *Service) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.ErrNotFound
	}
	return user, nil
}

// FindByID はIDでユーザーを取得する。
// 見つからない場合は model.ErrNotFound を返す。
func (s *Service) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.ErrNotFound
	}
	return user, nil
}

// CreateLocal はパスワード付きの一般ユーザーを作成する。
func (s *Service) CreateLocal(ctx context.Context, reg LocalRegistration) (*model.User, error) {
	return s.CreateWithRole(ctx, reg, model.RoleUser)
}

// CreateWithRole は指定ロールでパスワード付きユーザーを作成する。
// 重複チェックはストアの一意制約に委ね、事前の検索は行わない。
func (s *Service) CreateWithRole(ctx context.Context, reg LocalRegistration, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidRole, role)
	}
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(reg.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           s.newID(),
		Name:         strings.TrimSpace(reg.Name),
		Email:        model.NormalizeEmail(reg.Email),
		Address:      strings.TrimSpace(reg.Address),
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			return nil, model.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを作成しました",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// CreateOrGetFederated はメールアドレスが一致するユーザーを返し、存在しなければ作成する。
// 作成されるユーザーはロール user でパスワードを持たない。
// 同時作成で一意制約に負けた場合は勝者の行を読み直して返す。
func (s *Service) CreateOrGetFederated(ctx context.Context, profile FederatedProfile) (*model.User, error) {
	email := model.NormalizeEmail(profile.Email)
	if email == "" {
		return nil, model.NewValidationError("メールアドレスが取得できません")
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := s.now()
	user := &model.User{
		ID:        s.newID(),
		Name:      strings.TrimSpace(profile.Name),
		Email:     email,
		Role:      model.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, model.ErrDuplicateEmail) {
		winner, findErr := s.userRepo.FindByEmail(ctx, email)
		if findErr != nil {
			return nil, fmt.Errorf("ユーザーの再取得に失敗しました: %w", findErr)
		}
		if winner == nil {
			return nil, fmt.Errorf("duplicate email reported but user not found: %s", email)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("外部プロバイダー経由でユーザーを作成しました",
		slog.String("user_id", user.ID),
	)
	return user, nil
}

// VerifyPassword は候補パスワードがユーザーのハッシュと一致するかを返す。
// パスワードを持たないユーザーは常にfalse。
func (s *Service) VerifyPassword(user *model.User, candidate string) bool {
	if user == nil || !user.HasPassword() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(candidate)) == nil
}

// Authenticate はメールアドレスとパスワードでユーザーを認証する。
// ユーザー不在とパスワード不一致は区別せず model.ErrInvalidCredentials を返す。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil || !user.HasPassword() {
		// 応答時間でユーザーの存在が推測されないよう、ダミーハッシュと比較する
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		return nil, model.ErrInvalidCredentials
	}
	if !s.VerifyPassword(user, password) {
		return nil, model.ErrInvalidCredentials
	}
	return user, nil
}

// UpdatePassword は現在のパスワードを検証してから新しいパスワードに更新する。
// 検証と書き込みはストアでのcompare-and-setとして行い、競合した場合は
// model.ErrInvalidCurrentPassword を返す。
func (s *Service) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if newPassword == "" {
		return model.NewValidationError("新しいパスワードを入力してください")
	}

	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.VerifyPassword(user, currentPassword) {
		return model.ErrInvalidCurrentPassword
	}

	newHash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	updated, err := s.userRepo.CompareAndSetPasswordHash(ctx, userID, user.PasswordHash, newHash)
	if err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}
	if !updated {
		return model.ErrInvalidCurrentPassword
	}

	slog.Info("パスワードを更新しました", slog.String("user_id", userID))
	return nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", model.NewValidationError("パスワードは72バイト以内で入力してください")
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("storerating-dummy-password"), s.BcryptCost)
	})
	return s.dummyHash
}

func validateRegistration(reg LocalRegistration) error {
	switch {
	case strings.TrimSpace(reg.Name) == "":
		return model.NewValidationError("名前を入力してください")
	case !strings.Contains(model.NormalizeEmail(reg.Email), "@"):
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	case reg.Password == "":
		return model.NewValidationError("パスワードを入力してください")
	}
	return nil
}
