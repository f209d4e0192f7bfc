// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storerating/internal/identity"
	"github.com/hitoshi/storerating/internal/metrics"
	"github.com/hitoshi/storerating/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// identityContextKey はリクエストコンテキストに呼び出し元を格納するためのキー。
	identityContextKey = contextKey("identity")
	// requestInfoContextKey はロギングミドルウェアと共有するrequestInfoのキー。
	requestInfoContextKey = contextKey("request_info")
)

// requestInfo は内側のミドルウェアで解決した値を外側のロギングミドルウェアへ渡す。
type requestInfo struct {
	identity *model.Identity
	panicked bool
}

func requestInfoFromContext(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoContextKey).(*requestInfo)
	return info
}

// 認証結果のメトリクスラベル
const (
	authOutcomeResolved  = "resolved"
	authOutcomeRejected  = "rejected"
	authOutcomeAnonymous = "anonymous"
	authOutcomeError     = "error"
	authChannelNone      = "none"
)

// CallerResolver は認証情報から呼び出し元を解決する。
type CallerResolver interface {
	ResolveCaller(ctx context.Context, creds identity.Credentials) (*model.Identity, error)
}

// NewIdentityMiddleware はセッションCookieとBearerトークンから呼び出し元を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 認証できないリクエストは匿名として次へ渡す。拒否の判定はアクセスミドルウェアが行う。
// セッションストアのエラーは500を返す。
func NewIdentityMiddleware(resolver CallerResolver, codec identity.CookieDecoder, m metrics.AuthMetrics) func(next http.Handler) http.Handler {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := identity.CredentialsFromRequest(r, codec)
			if creds.SessionCookie == "" && creds.BearerToken == "" {
				m.RecordAuthOutcome(authChannelNone, authOutcomeAnonymous)
				next.ServeHTTP(w, r)
				return
			}

			id, err := resolver.ResolveCaller(r.Context(), creds)
			switch {
			case err == nil:
				m.RecordAuthOutcome(string(id.Channel), authOutcomeResolved)
				next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
			case errors.Is(err, model.ErrUnauthenticated):
				m.RecordAuthOutcome(presentedChannel(creds), authOutcomeRejected)
				next.ServeHTTP(w, r)
			default:
				m.RecordAuthOutcome(presentedChannel(creds), authOutcomeError)
				slog.Error("failed to resolve caller",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
			}
		})
	}
}

func presentedChannel(creds identity.Credentials) string {
	if creds.SessionCookie != "" {
		return string(model.AuthChannelSession)
	}
	return string(model.AuthChannelToken)
}

// IdentityFromContext はリクエストコンテキストから呼び出し元を取得する。
// 匿名リクエストの場合はnilを返す。
func IdentityFromContext(ctx context.Context) *model.Identity {
	id, _ := ctx.Value(identityContextKey).(*model.Identity)
	return id
}

// ContextWithIdentity はコンテキストに呼び出し元を注入する。
// ロギングミドルウェアの内側で呼ばれた場合はログ出力用にも記録する。
func ContextWithIdentity(ctx context.Context, id *model.Identity) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.identity = id
	}
	return context.WithValue(ctx, identityContextKey, id)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証済みのリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	id := IdentityFromContext(ctx)
	if id == nil || id.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return id.UserID, nil
}
