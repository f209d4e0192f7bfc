package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/storerating/internal/model"
	"github.com/hitoshi/storerating/internal/repository"
	"github.com/hitoshi/storerating/internal/user"
)

// --- モック定義 ---

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*ProviderProfile, error)
}

func (m *mockOAuthProvider) AuthCodeURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://provider.example.com/auth?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ProviderProfile, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return &ProviderProfile{Email: "hana@example.com", Name: "Hana", Provider: "google"}, nil
}

type mockSessionRepo struct {
	createFn func(ctx context.Context, session *model.Session) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}
func (m *mockSessionRepo) FindByID(context.Context, string) (*model.Session, error) { return nil, nil }
func (m *mockSessionRepo) DeleteByID(context.Context, string) error                { return nil }

// --- compile-time interface checks ---
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
var _ UserDirectory = (*user.Service)(nil)

type fixture struct {
	svc      *Service
	users    *user.Service
	userRepo *repository.MemoryUserRepo
	sessions *repository.MemorySessionRepo
	oauth    *mockOAuthProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	userRepo := repository.NewMemoryUserRepo()
	users := user.NewService(userRepo)
	users.BcryptCost = bcrypt.MinCost
	sessions := repository.NewMemorySessionRepo(nil)
	oauth := &mockOAuthProvider{}
	svc := NewService(oauth, users, sessions, NewLoginAttempts(100, time.Minute), ServiceConfig{SessionMaxAge: 3600})
	return &fixture{svc: svc, users: users, userRepo: userRepo, sessions: sessions, oauth: oauth}
}

// --- テスト ---

func TestBeginLogin_ReturnsStateAndProviderURL(t *testing.T) {
	f := newFixture(t)

	state, url, err := f.svc.BeginLogin(context.Background())
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if state == "" || !strings.Contains(url, state) {
		t.Errorf("URL %q should carry state %q", url, state)
	}
	if got := f.svc.LoginState(state); got != LoginPendingProvider {
		t.Errorf("state = %q, want %q", got, LoginPendingProvider)
	}
}

func TestHandleCallback_NewUser_CreatesFederatedUserAndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	state, _, _ := f.svc.BeginLogin(ctx)

	session, u, err := f.svc.HandleCallback(ctx, state, "code-1")
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if u.Role != model.RoleUser || u.HasPassword() {
		t.Errorf("federated user should have role user and no password: %+v", u)
	}
	if session.UserID != u.ID {
		t.Errorf("session.UserID = %q, want %q", session.UserID, u.ID)
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(session.ID))
	}
	if got := session.ExpiresAt.Sub(session.CreatedAt); got != time.Hour {
		t.Errorf("session lifetime = %v, want 1h", got)
	}
	if got := f.svc.LoginState(state); got != LoginAuthenticated {
		t.Errorf("state = %q, want %q", got, LoginAuthenticated)
	}
}

func TestHandleCallback_ExistingLocalUser_ReusesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing, err := f.users.CreateLocal(ctx, user.LocalRegistration{
		Name: "Hana", Email: "Hana@Example.com", Password: "pw",
	})
	if err != nil {
		t.Fatalf("CreateLocal: %v", err)
	}
	state, _, _ := f.svc.BeginLogin(ctx)

	_, u, err := f.svc.HandleCallback(ctx, state, "code-1")
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if u.ID != existing.ID {
		t.Errorf("user ID = %q, want existing %q", u.ID, existing.ID)
	}
	if f.userRepo.Count() != 1 {
		t.Errorf("Count = %d, want 1", f.userRepo.Count())
	}
}

func TestHandleCallback_ReplayedStateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	state, _, _ := f.svc.BeginLogin(ctx)

	if _, _, err := f.svc.HandleCallback(ctx, state, "code-1"); err != nil {
		t.Fatalf("first HandleCallback: %v", err)
	}
	_, _, err := f.svc.HandleCallback(ctx, state, "code-1")
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
	if got := f.svc.LoginState(state); got != LoginFailed {
		t.Errorf("state = %q, want %q", got, LoginFailed)
	}
}

func TestHandleCallback_ConcurrentCallbacksAuthenticateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	state, _, _ := f.svc.BeginLogin(ctx)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.svc.HandleCallback(ctx, state, "code-1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
}

func TestHandleCallback_UnknownStateFails(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.HandleCallback(context.Background(), "never-issued", "code-1")
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
}

func TestHandleCallback_ProviderErrorMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.oauth.exchangeCodeFn = func(ctx context.Context, code string) (*ProviderProfile, error) {
		return nil, errors.New("invalid_grant")
	}
	ctx := context.Background()
	state, _, _ := f.svc.BeginLogin(ctx)

	_, _, err := f.svc.HandleCallback(ctx, state, "bad-code")
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
	if got := f.svc.LoginState(state); got != LoginFailed {
		t.Errorf("state = %q, want %q", got, LoginFailed)
	}
	if f.userRepo.Count() != 0 {
		t.Error("プロバイダーエラー時はユーザーを作成しないべき")
	}
}

func TestHandleCallback_MissingCodeEndsAttempt(t *testing.T) {
	f := newFixture(t)
	f.oauth.exchangeCodeFn = func(ctx context.Context, code string) (*ProviderProfile, error) {
		t.Fatal("ExchangeCode should not be called without a code")
		return nil, nil
	}
	ctx := context.Background()
	state, _, _ := f.svc.BeginLogin(ctx)

	_, _, err := f.svc.HandleCallback(ctx, state, "")
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
	if got := f.svc.LoginState(state); got != LoginFailed {
		t.Errorf("state = %q, want %q", got, LoginFailed)
	}

	// 拒否された試行のstateは後から正しいcodeが届いても使えない
	f.oauth.exchangeCodeFn = nil
	if _, _, err := f.svc.HandleCallback(ctx, state, "code-1"); !errors.Is(err, ErrLoginFailed) {
		t.Errorf("later callback err = %v, want ErrLoginFailed", err)
	}
	if f.userRepo.Count() != 0 {
		t.Error("拒否された試行ではユーザーを作成しないべき")
	}
}

func TestHandleCallback_SessionStoreErrorFails(t *testing.T) {
	userRepo := repository.NewMemoryUserRepo()
	users := user.NewService(userRepo)
	sessions := &mockSessionRepo{createFn: func(ctx context.Context, s *model.Session) error {
		return errors.New("db down")
	}}
	svc := NewService(&mockOAuthProvider{}, users, sessions, NewLoginAttempts(10, time.Minute), ServiceConfig{SessionMaxAge: 60})
	ctx := context.Background()
	state, _, _ := svc.BeginLogin(ctx)

	_, _, err := svc.HandleCallback(ctx, state, "code-1")
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
}

func TestResolveSession_ReadsCurrentRoleFromUserRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin, err := f.users.CreateWithRole(ctx, user.LocalRegistration{Name: "A", Email: "a@example.com", Password: "pw"}, model.RoleAdmin)
	if err != nil {
		t.Fatalf("CreateWithRole: %v", err)
	}
	_ = f.sessions.Create(ctx, &model.Session{ID: "sess-1", UserID: admin.ID, ExpiresAt: time.Now().Add(time.Hour)})

	u, err := f.svc.ResolveSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if u.Role != model.RoleAdmin {
		t.Errorf("Role = %q, want admin", u.Role)
	}
}

func TestResolveSession_MissingOrExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.sessions.Create(ctx, &model.Session{ID: "old", UserID: "u", ExpiresAt: time.Now().Add(-time.Minute)})
	_ = f.sessions.Create(ctx, &model.Session{ID: "orphan", UserID: "deleted-user", ExpiresAt: time.Now().Add(time.Hour)})

	for _, id := range []string{"", "unknown", "old", "orphan"} {
		if _, err := f.svc.ResolveSession(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("ResolveSession(%q) err = %v, want ErrSessionNotFound", id, err)
		}
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	state, _, _ := f.svc.BeginLogin(ctx)
	session, _, err := f.svc.HandleCallback(ctx, state, "code-1")
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	if err := f.svc.Logout(ctx, session.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.ResolveSession(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound after logout", err)
	}
}

func TestLogout_EmptySessionID_ReturnsError(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Logout(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestLoginAttempts_ExpiredStateIsUnknown(t *testing.T) {
	attempts := NewLoginAttempts(10, 20*time.Millisecond)
	state, err := attempts.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	if err := attempts.Claim(state); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
}

func TestCookieCodec_RoundTripAndTamper(t *testing.T) {
	codec, err := NewCookieCodec("cookie-secret", 3600)
	if err != nil {
		t.Fatalf("NewCookieCodec: %v", err)
	}

	encoded, err := codec.Encode(SessionCookieName, "sess-123")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := codec.Decode(SessionCookieName, encoded)
	if err != nil || got != "sess-123" {
		t.Fatalf("Decode = %q, %v", got, err)
	}

	if _, err := codec.Decode(SessionCookieName, "sess-123"); err == nil {
		t.Error("署名のない値は拒否されるべき")
	}
	if _, err := codec.Decode(StateCookieName, encoded); err == nil {
		t.Error("別名のCookieとして署名された値は拒否されるべき")
	}
}
