package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/storerating/internal/model"
)

// newSessionRequest はセッションCookieで認証済みのリクエストを生成する。
func newSessionRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	id := &model.Identity{UserID: "user-1", Role: model.RoleUser, Channel: model.AuthChannelSession}
	return req.WithContext(ContextWithIdentity(req.Context(), id))
}

func findResponseCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethods_PassWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			handler.ServeHTTP(httptest.NewRecorder(), newSessionRequest(method, "/api/auth/me", nil))

			if !called {
				t.Fatalf("%s should reach the handler without a token", method)
			}
		})
	}
}

func TestCSRFMiddleware_SessionMutations(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		wantStatus int
	}{
		{"POST without cookie", http.MethodPost, "", "", http.StatusForbidden},
		{"POST without header", http.MethodPost, "tok-a", "", http.StatusForbidden},
		{"POST mismatch", http.MethodPost, "tok-a", "tok-b", http.StatusForbidden},
		{"POST match", http.MethodPost, "tok-a", "tok-a", http.StatusOK},
		{"PUT match", http.MethodPut, "tok-a", "tok-a", http.StatusOK},
		{"PATCH without token", http.MethodPatch, "", "", http.StatusForbidden},
		{"DELETE without token", http.MethodDelete, "", "", http.StatusForbidden},
		{"DELETE match", http.MethodDelete, "tok-z", "tok-z", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := newSessionRequest(tt.method, "/api/ratings", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v, want %v", called, tt.wantStatus == http.StatusOK)
			}
		})
	}
}

func TestCSRFGuard_Verify_ReportsReason(t *testing.T) {
	g := newCSRFGuard(CSRFConfig{})

	tests := []struct {
		name   string
		cookie string
		header string
		want   error
	}{
		{"cookie missing", "", "x", errCSRFCookieMissing},
		{"header missing", "x", "", errCSRFHeaderMissing},
		{"different length", "abc", "abcd", errCSRFMismatch},
		{"same", "abc", "abc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			if err := g.verify(req); !errors.Is(err, tt.want) {
				t.Errorf("verify() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCSRFMiddleware_NonSessionCallers_SkipValidation(t *testing.T) {
	tests := []struct {
		name string
		id   *model.Identity
	}{
		{"bearer token", &model.Identity{UserID: "user-1", Role: model.RoleUser, Channel: model.AuthChannelToken}},
		{"anonymous", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusCreated)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/ratings", nil)
			if tt.id != nil {
				req = req.WithContext(ContextWithIdentity(req.Context(), tt.id))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if !called || w.Code != http.StatusCreated {
				t.Errorf("called = %v, status = %d; want pass-through", called, w.Code)
			}
		})
	}
}

func TestCSRFMiddleware_Rejection_UsesUnifiedErrorBody(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newSessionRequest(http.MethodPut, "/api/users/password", nil))

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeCSRFValidation {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFValidation)
	}
}

func TestCSRFMiddleware_SafeRequest_IssuesCookieOnce(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{CookieDomain: "example.com", CookieSecure: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

	c := findResponseCookie(w.Result(), csrfCookieName)
	if c == nil {
		t.Fatal("expected csrf cookie on first safe request")
	}
	if c.Value == "" || c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
		t.Errorf("unexpected cookie attributes: %+v", c)
	}
	if c.MaxAge != defaultCSRFMaxAge {
		t.Errorf("MaxAge = %d, want %d", c.MaxAge, defaultCSRFMaxAge)
	}

	again := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	again.AddCookie(&http.Cookie{Name: csrfCookieName, Value: c.Value})
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, again)
	if findResponseCookie(w2.Result(), csrfCookieName) != nil {
		t.Error("csrf cookie should not be re-issued when present")
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	t.Run("issues token matching cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{MaxAge: 600}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		c := findResponseCookie(w.Result(), csrfCookieName)
		if c == nil || body.Token == "" || c.Value != body.Token {
			t.Fatalf("cookie %+v does not match token %q", c, body.Token)
		}
		if c.MaxAge != 600 {
			t.Errorf("MaxAge = %d, want 600", c.MaxAge)
		}
	})

	t.Run("returns existing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "kept"})
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, req)

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Token != "kept" {
			t.Errorf("token = %q, want kept", body.Token)
		}
	})
}

func TestNewCSRFToken_IsRandom(t *testing.T) {
	a, err := newCSRFToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := newCSRFToken()
	if a == b || len(a) < 40 {
		t.Errorf("tokens %q / %q are not distinct random values", a, b)
	}
}
