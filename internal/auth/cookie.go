package auth

import (
	"errors"
	"fmt"

	"github.com/gorilla/securecookie"
)

// Cookie名
const (
	SessionCookieName = "session_id"
	StateCookieName   = "oauth_state"
)

// CookieCodec はCookie値にHMAC署名を付与・検証する。
// 署名のないCookieや改ざんされたCookieは復号に失敗する。
type CookieCodec struct {
	sc *securecookie.SecureCookie
}

// NewCookieCodec はCookieCodecを生成する。maxAgeは署名に埋め込むタイムスタンプの有効期間（秒）。
func NewCookieCodec(secret string, maxAge int) (*CookieCodec, error) {
	if secret == "" {
		return nil, errors.New("cookie signing secret is required")
	}
	sc := securecookie.New([]byte(secret), nil)
	sc.SetSerializer(securecookie.JSONEncoder{})
	if maxAge > 0 {
		sc.MaxAge(maxAge)
	}
	return &CookieCodec{sc: sc}, nil
}

// Encode は値を署名付きのCookie値に変換する。
func (c *CookieCodec) Encode(name, value string) (string, error) {
	encoded, err := c.sc.Encode(name, value)
	if err != nil {
		return "", fmt.Errorf("failed to encode cookie %s: %w", name, err)
	}
	return encoded, nil
}

// Decode は署名付きのCookie値を検証して元の値を返す。
func (c *CookieCodec) Decode(name, encoded string) (string, error) {
	var value string
	if err := c.sc.Decode(name, encoded, &value); err != nil {
		return "", fmt.Errorf("failed to decode cookie %s: %w", name, err)
	}
	return value, nil
}
