// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/storerating/internal/auth"
	"github.com/hitoshi/storerating/internal/middleware"
	"github.com/hitoshi/storerating/internal/model"
	"github.com/hitoshi/storerating/internal/user"
)

// stateCookieMaxAge はoauth_state Cookieの有効期間（秒）。
const stateCookieMaxAge = 600

// CredentialService はローカル登録とログインに必要なユーザー操作。
type CredentialService interface {
	CreateLocal(ctx context.Context, reg user.LocalRegistration) (*model.User, error)
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
}

// TokenIssuer はBearerトークンを発行する。
type TokenIssuer interface {
	Issue(userID string, role model.Role) (string, time.Time, error)
}

// ProviderLoginService は外部プロバイダー経由のログインとセッションを扱う。
type ProviderLoginService interface {
	BeginLogin(ctx context.Context) (state, loginURL string, err error)
	HandleCallback(ctx context.Context, state, code string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, sessionID string) error
}

// UserFinder はIDでユーザーを取得する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SignedCookieCodec は署名付きCookie値の生成と検証を行う。
type SignedCookieCodec interface {
	Encode(name, value string) (string, error)
	Decode(name, encoded string) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は登録・ログイン・セッション関連のHTTPハンドラー。
type AuthHandler struct {
	credentials CredentialService
	tokens      TokenIssuer
	provider    ProviderLoginService
	users       UserFinder
	cookies     SignedCookieCodec
	config      AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	credentials CredentialService,
	tokens TokenIssuer,
	provider ProviderLoginService,
	users UserFinder,
	cookies SignedCookieCodec,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		tokens:      tokens,
		provider:    provider,
		users:       users,
		cookies:     cookies,
		config:      config,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Address  string `json:"address"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse は登録・ログイン成功時のレスポンス。
type tokenResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Register はローカルユーザーを登録し、Bearerトークンを返す。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.credentials.CreateLocal(r.Context(), user.LocalRegistration{
		Name:     req.Name,
		Email:    req.Email,
		Address:  req.Address,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.writeToken(w, http.StatusCreated, u)
}

// Login はメールアドレスとパスワードで認証し、Bearerトークンを返す。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.credentials.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			slog.Warn("login rejected")
		}
		handleServiceError(w, err)
		return
	}

	h.writeToken(w, http.StatusOK, u)
}

func (h *AuthHandler) writeToken(w http.ResponseWriter, statusCode int, u *model.User) {
	token, expiresAt, err := h.tokens.Issue(u.ID, u.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, statusCode, tokenResponse{
		User:      toUserResponse(u),
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// Provider は外部プロバイダーのログインフローを開始する。
// GET /auth/provider
func (h *AuthHandler) Provider(w http.ResponseWriter, r *http.Request) {
	state, loginURL, err := h.provider.BeginLogin(r.Context())
	if err != nil {
		slog.Error("failed to begin provider login", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateを署名付きCookieに保存し、コールバックを開始したブラウザに結び付ける
	encoded, err := h.cookies.Encode(auth.StateCookieName, state)
	if err != nil {
		slog.Error("failed to encode oauth state cookie", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	h.setCookie(w, auth.StateCookieName, encoded, stateCookieMaxAge)

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// ProviderCallback はプロバイダーからのコールバックを処理する。
// 成功時はセッションCookieを設定してロール別のダッシュボードへ、
// 失敗時はトップページへリダイレクトする。
// GET /auth/provider/callback?code=xxx&state=yyy
func (h *AuthHandler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	cookieState := h.readCookie(r, auth.StateCookieName)

	// stateクッキーは結果に関わらず削除する
	h.setCookie(w, auth.StateCookieName, "", -1)

	if state == "" || cookieState != state {
		slog.Warn("oauth state mismatch")
		h.redirectLoginFailure(w, r)
		return
	}

	// codeが無いコールバックも試行を終わらせるためサービスへ渡す
	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("oauth callback without authorization code",
			slog.String("provider_error", r.URL.Query().Get("error")),
		)
	}

	session, u, err := h.provider.HandleCallback(r.Context(), state, code)
	if err != nil {
		slog.Warn("oauth callback failed", slog.String("error", err.Error()))
		h.redirectLoginFailure(w, r)
		return
	}

	encoded, err := h.cookies.Encode(auth.SessionCookieName, session.ID)
	if err != nil {
		slog.Error("failed to encode session cookie", slog.String("error", err.Error()))
		h.redirectLoginFailure(w, r)
		return
	}
	h.setCookie(w, auth.SessionCookieName, encoded, h.config.SessionMaxAge)

	http.Redirect(w, r, h.dashboardURL(u.Role), http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄し、Cookieをクリアする。
// 破棄するセッションは呼び出し元の解決結果から取る。セッション以外の呼び出し元はCookieのクリアのみ。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id := middleware.IdentityFromContext(r.Context()); id != nil && id.SessionID != "" {
		err := h.provider.Logout(r.Context(), id.SessionID)
		if err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.setCookie(w, auth.SessionCookieName, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在の呼び出し元のユーザー情報を返す。セッション・トークンのどちらでもよい。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	u, err := h.users.FindByID(r.Context(), userID)
	if errors.Is(err, model.ErrNotFound) {
		// トークン発行後に削除されたユーザー
		middleware.WriteUnauthenticated(w)
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]userResponse{"user": toUserResponse(u)})
}

// dashboardURL はロール別のダッシュボードURLを返す。
func (h *AuthHandler) dashboardURL(role model.Role) string {
	base := strings.TrimRight(h.config.BaseURL, "/")
	switch role {
	case model.RoleAdmin:
		return base + "/admin/dashboard"
	case model.RoleStoreOwner:
		return base + "/store-owner/dashboard"
	case model.RoleUser:
		return base + "/user/dashboard"
	default:
		return base + "/"
	}
}

func (h *AuthHandler) redirectLoginFailure(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, strings.TrimRight(h.config.BaseURL, "/")+"/", http.StatusTemporaryRedirect)
}

// readCookie は署名付きCookieを検証して値を返す。存在しないか検証に失敗した場合は空文字。
func (h *AuthHandler) readCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return ""
	}
	value, err := h.cookies.Decode(name, cookie.Value)
	if err != nil {
		return ""
	}
	return value
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
