package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storerating/internal/model"
)

const (
	// csrfCookieName はダブルサブミット用トークンを保持するCookie。
	// フロントエンドが読み取ってヘッダーへ複写するため HttpOnly にしない。
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"

	defaultCSRFMaxAge = 86400
	csrfTokenBytes    = 32
)

var (
	errCSRFCookieMissing = errors.New("csrf cookie missing")
	errCSRFHeaderMissing = errors.New("csrf header missing")
	errCSRFMismatch      = errors.New("csrf token mismatch")
)

// CSRFConfig はCSRFトークンCookieの発行設定。
// MaxAge が0以下の場合は24時間を使う。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int
}

type csrfGuard struct {
	config CSRFConfig
}

func newCSRFGuard(config CSRFConfig) *csrfGuard {
	if config.MaxAge <= 0 {
		config.MaxAge = defaultCSRFMaxAge
	}
	return &csrfGuard{config: config}
}

// NewCSRFMiddleware はセッションチャネルの状態変更リクエストに対して
// Cookieとヘッダーのトークン一致を要求するミドルウェアを返す。
// Bearerトークンと匿名の呼び出しは検証しない。
// 安全なメソッドではトークンCookieが無ければ発行する。
// NewIdentityMiddleware の内側に配置すること。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	g := newCSRFGuard(config)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case isSafeMethod(r.Method):
				if _, err := g.currentOrIssue(w, r); err != nil {
					slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
				}
			case requiresCSRFCheck(r):
				if err := g.verify(r); err != nil {
					slog.Warn("CSRF validation failed",
						slog.String("reason", err.Error()),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
					)
					WriteErrorResponse(w, http.StatusForbidden, model.NewCSRFValidationError())
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler は GET /api/csrf-token のハンドラー。
// 有効なトークンCookieがあればその値を、無ければ新規発行した値を {"token": ...} で返す。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	g := newCSRFGuard(config)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := g.currentOrIssue(w, r)
		if err != nil {
			slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
			WriteInternalServerError(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
}

func requiresCSRFCheck(r *http.Request) bool {
	id := IdentityFromContext(r.Context())
	return id != nil && id.Channel == model.AuthChannelSession
}

func (g *csrfGuard) verify(r *http.Request) error {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return errCSRFCookieMissing
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return errCSRFHeaderMissing
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return errCSRFMismatch
	}
	return nil
}

// currentOrIssue はリクエストのトークンCookieを返す。無ければ発行してSet-Cookieする。
func (g *csrfGuard) currentOrIssue(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(csrfCookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	token, err := newCSRFToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   g.config.CookieDomain,
		MaxAge:   g.config.MaxAge,
		Secure:   g.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func newCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
