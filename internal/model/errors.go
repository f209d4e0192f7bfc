package model

import (
	"errors"
	"fmt"
)

// ドメイン層で共有する番兵エラー。
var (
	// ErrNotFound は対象レコードが存在しないことを表す。
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail はメールアドレスが既に登録済みであることを表す。
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidRole は未定義のロールが指定されたことを表す。
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しないことを表す。
	// どちらが誤っているかは区別しない。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCurrentPassword は現在のパスワードが一致しないことを表す。
	ErrInvalidCurrentPassword = errors.New("invalid current password")
	// ErrUnauthenticated は呼び出し元を認証できなかったことを表す。
	ErrUnauthenticated = errors.New("unauthenticated")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, rating, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated        = "UNAUTHENTICATED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeInvalidCurrentPassword = "INVALID_CURRENT_PASSWORD"
	ErrCodeDuplicateEmail         = "DUPLICATE_EMAIL"
	ErrCodeInvalidRole            = "INVALID_ROLE"
	ErrCodeInvalidRating          = "INVALID_RATING"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodePersistenceFailed      = "PERSISTENCE_FAILED"
	ErrCodeLoginFailed            = "LOGIN_FAILED"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeCSRFValidation         = "CSRF_VALIDATION_FAILED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "権限を持つアカウントでログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidCurrentPasswordError は現在のパスワード不一致エラーを生成する。
func NewInvalidCurrentPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCurrentPassword,
		Message:  "現在のパスワードが正しくありません。",
		Category: "auth",
		Action:   "現在のパスワードを確認してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewInvalidRoleError は無効なロールエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("無効なロールです: %s", role),
		Category: "validation",
		Action:   "ロールには user、store-owner、admin のいずれかを指定してください。",
	}
}

// NewInvalidRatingError は評価値が範囲外の場合のエラーを生成する。
func NewInvalidRatingError(value int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRating,
		Message:  fmt.Sprintf("無効な評価値です: %d", value),
		Category: "validation",
		Action:   fmt.Sprintf("評価は%dから%dの整数で指定してください。", MinRatingValue, MaxRatingValue),
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewPersistenceFailedError は評価の保存失敗エラーを生成する。
func NewPersistenceFailedError() *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailed,
		Message:  "評価の保存に失敗しました。",
		Category: "rating",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewLoginFailedError は外部プロバイダーによるログイン失敗エラーを生成する。
func NewLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  "ログインに失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFValidationError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFValidation,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
