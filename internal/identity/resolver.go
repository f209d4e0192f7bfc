// Package identity は2種類の認証経路（セッションCookieとBearerトークン）を
// 単一の model.Identity に解決する。
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/storerating/internal/auth"
	"github.com/hitoshi/storerating/internal/model"
)

// SessionResolver はセッションIDから現在のユーザーを取得する。
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*model.User, error)
}

// TokenVerifier はBearerトークンを検証する。
type TokenVerifier interface {
	Verify(token string) (*auth.TokenClaims, error)
}

// CookieDecoder は署名付きCookie値を検証・復号する。
type CookieDecoder interface {
	Decode(name, encoded string) (string, error)
}

// Credentials はリクエストから取り出した認証情報。
// SessionCookie は署名検証済みのセッションID。
type Credentials struct {
	SessionCookie string
	BearerToken   string
}

// Resolver は呼び出し元を解決する。状態を変更しないため並行に呼び出してよい。
type Resolver struct {
	sessions SessionResolver
	tokens   TokenVerifier
}

// NewResolver はResolverを生成する。
func NewResolver(sessions SessionResolver, tokens TokenVerifier) *Resolver {
	return &Resolver{sessions: sessions, tokens: tokens}
}

// ResolveCaller は認証情報から呼び出し元を解決する。
// 有効なセッションを優先し、次にBearerトークンを検証する。
// 認証の失敗理由は区別せず model.ErrUnauthenticated を返す。ストアのエラーはそのまま返す。
func (r *Resolver) ResolveCaller(ctx context.Context, creds Credentials) (*model.Identity, error) {
	if creds.SessionCookie != "" {
		u, err := r.sessions.ResolveSession(ctx, creds.SessionCookie)
		switch {
		case err == nil:
			return &model.Identity{
				UserID:    u.ID,
				Role:      u.Role,
				Channel:   model.AuthChannelSession,
				SessionID: creds.SessionCookie,
			}, nil
		case !errors.Is(err, auth.ErrSessionNotFound):
			return nil, err
		}
	}

	if creds.BearerToken != "" {
		claims, err := r.tokens.Verify(creds.BearerToken)
		if err != nil {
			return nil, model.ErrUnauthenticated
		}
		return &model.Identity{UserID: claims.UserID, Role: claims.Role, Channel: model.AuthChannelToken}, nil
	}

	return nil, model.ErrUnauthenticated
}

// CredentialsFromRequest はCookieとAuthorizationヘッダーから認証情報を取り出す。
// 署名検証に失敗したCookieは存在しないものとして扱う。
func CredentialsFromRequest(r *http.Request, codec CookieDecoder) Credentials {
	var creds Credentials

	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && cookie.Value != "" {
		if sessionID, err := codec.Decode(auth.SessionCookieName, cookie.Value); err == nil {
			creds.SessionCookie = sessionID
		}
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		creds.BearerToken = strings.TrimSpace(token)
	}

	return creds
}
