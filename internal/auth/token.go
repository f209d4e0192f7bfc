package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/storerating/internal/model"
)

// DefaultTokenTTL はBearerトークンの有効期間。
const DefaultTokenTTL = 24 * time.Hour

// トークン検証エラー。境界ではすべて未認証として扱い、呼び出し元には区別を返さない。
var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenExpired   = errors.New("token expired")
)

// TokenClaims はBearerトークンに埋め込むクレーム。
type TokenClaims struct {
	UserID string     `json:"userId"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenAuthenticator はHS256署名のステートレスなBearerトークンを発行・検証する。
// 状態を持たないため並行に呼び出してよい。
type TokenAuthenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption はTokenAuthenticatorの設定を変更する。
type TokenOption func(*TokenAuthenticator)

// WithTokenTTL はトークンの有効期間を設定する。
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(a *TokenAuthenticator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) TokenOption {
	return func(a *TokenAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewTokenAuthenticator はTokenAuthenticatorを生成する。
func NewTokenAuthenticator(secret string, opts ...TokenOption) (*TokenAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("token signing secret is required")
	}
	a := &TokenAuthenticator{
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Issue はユーザーIDとロールを埋め込んだトークンを発行する。
func (a *TokenAuthenticator) Issue(userID string, role model.Role) (string, time.Time, error) {
	issuedAt := a.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(a.ttl)

	claims := TokenClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はトークンを検証してクレームを返す。
// 構造不正は ErrTokenMalformed、署名不一致は ErrTokenInvalid、期限切れは ErrTokenExpired。
// 署名は期限より先に検証されるため、改ざんされた期限切れトークンは ErrTokenInvalid になる。
// 期限ちょうどの時刻はまだ有効で、期限を過ぎた時点で ErrTokenExpired になる。
func (a *TokenAuthenticator) Verify(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	// 時刻クレームはjwtの検証(exp == now を期限切れとする)を使わず下で判定する
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return nil, ErrTokenMalformed
	}
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid || claims.UserID == "" || !claims.Role.Valid() || claims.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}

	now := a.now()
	if claims.IssuedAt != nil && claims.IssuedAt.After(now) {
		return nil, ErrTokenInvalid
	}
	if now.After(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}
