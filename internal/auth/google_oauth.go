package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	providerGoogle    = "google"

	maxProfileBytes = 1 << 20
)

// ErrUnverifiedEmail はプロバイダーがメールアドレスの所有を確認していないことを表す。
// ユーザーはメールアドレスで照合するため、未確認のアドレスではログインさせない。
var ErrUnverifiedEmail = errors.New("provider email is not verified")

// ProviderProfile はプロバイダーが返した本人確認済みのプロフィール。
type ProviderProfile struct {
	Subject  string
	Email    string
	Name     string
	Provider string
}

// OAuthProvider は外部プロバイダーへの委譲ログインを抽象化する。
type OAuthProvider interface {
	// AuthCodeURL は state を埋め込んだ認可画面のURLを返す。
	AuthCodeURL(state string) string
	// ExchangeCode は認可コードを引き換えてプロフィールを取得する。
	// 認可コードは一度しか使えないため、再送されたコードはエラーになる。
	ExchangeCode(ctx context.Context, code string) (*ProviderProfile, error)
}

// GoogleOAuthConfig はGoogleログインの設定。
// Endpoint と UserInfoURL はテストで差し替える。空なら本番のGoogleを使う。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

// GoogleOAuthProvider はOpenID Connectのuserinfoでプロフィールを取得する OAuthProvider。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := config.Endpoint
	if endpoint.AuthURL == "" {
		endpoint.AuthURL = endpoints.Google.AuthURL
	}
	if endpoint.TokenURL == "" {
		endpoint.TokenURL = endpoints.Google.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	userInfoURL := config.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  config.HTTPClient,
	}
}

// AuthCodeURL はアカウント選択画面を必ず表示させる。
func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ProviderProfile, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	claims, err := p.userInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, errors.New("userinfo response has no email")
	}
	if !claims.EmailVerified {
		return nil, ErrUnverifiedEmail
	}

	return &ProviderProfile{
		Subject:  claims.Sub,
		Email:    claims.Email,
		Name:     claims.Name,
		Provider: providerGoogle,
	}, nil
}

type userInfoClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (p *GoogleOAuthProvider) userInfo(ctx context.Context, token *oauth2.Token) (*userInfoClaims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBytes))
		return nil, fmt.Errorf("userinfo request: unexpected status %d", resp.StatusCode)
	}

	var claims userInfoClaims
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &claims, nil
}

var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
