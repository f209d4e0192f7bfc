// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/storerating/internal/auth"
	"github.com/hitoshi/storerating/internal/config"
	"github.com/hitoshi/storerating/internal/database"
	"github.com/hitoshi/storerating/internal/handler"
	"github.com/hitoshi/storerating/internal/identity"
	"github.com/hitoshi/storerating/internal/logger"
	"github.com/hitoshi/storerating/internal/metrics"
	"github.com/hitoshi/storerating/internal/middleware"
	"github.com/hitoshi/storerating/internal/model"
	"github.com/hitoshi/storerating/internal/rating"
	"github.com/hitoshi/storerating/internal/repository"
	"github.com/hitoshi/storerating/internal/security"
	"github.com/hitoshi/storerating/internal/sentiment"
	"github.com/hitoshi/storerating/internal/user"
	"github.com/hitoshi/storerating/internal/worker/cleanup"
)

const (
	// defaultHealthcheckPort はhealthcheckサブコマンドが参照するデフォルトポート。
	defaultHealthcheckPort = "5000"
	// loginAttemptCapacity は同時に保持するログイン試行の上限。
	loginAttemptCapacity = 10000
	// dbReadyAttempts はDB接続確認の試行回数。
	dbReadyAttempts = 5
	// hstsMaxAge はHTTPS配信時のStrict-Transport-Security（1年）。
	hstsMaxAge = 31536000
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultHealthcheckPort
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		dir, err := ParseMigrateDirection(args)
		if err != nil {
			return err
		}
		return runMigrate(cfg, dir)
	case CommandCreateAdmin:
		return runCreateAdmin(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.WaitReady(ctx, db, dbReadyAttempts, 2*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// server はAPIサーバーの構成要素をまとめる。
type server struct {
	router      http.Handler
	rateLimiter *middleware.RateLimiter
}

// newServer はDBと設定から全依存関係をワイヤリングし、ルーターを構築する。
// 呼び出し側はrateLimiter.Stopを呼ぶ責任を持つ。
func newServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*server, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	ratingRepo := repository.NewPostgresRatingRepo(db)

	// 2. メトリクス
	collector := metrics.NewCollector(reg)

	// 3. 認証まわりの初期化
	tokens, err := auth.NewTokenAuthenticator(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token authenticator: %w", err)
	}
	cookies, err := auth.NewCookieCodec(cfg.SessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie codec: %w", err)
	}

	userService := user.NewService(userRepo)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleCallbackURL,
	})
	authService := auth.NewService(
		oauthProvider, userService, sessionRepo,
		auth.NewLoginAttempts(loginAttemptCapacity, cfg.LoginStateTTL),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 4. 評価パイプラインの初期化
	classifier := sentiment.NewClient(
		&http.Client{Timeout: cfg.ClassifierTimeout + time.Second},
		slog.Default(),
		cfg.ClassifierEndpoint,
		cfg.HFAPIKey,
	)
	pipeline := rating.NewPipeline(
		classifier, ratingRepo, security.NewReviewSanitizer(), collector,
		slog.Default(), rating.Config{ClassifierTimeout: cfg.ClassifierTimeout},
	)

	// 5. ルーターの構築
	// configのレート制限はreq/min単位
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitRating))

	deps := &handler.RouterDeps{
		CallerResolver:    identity.NewResolver(authService, tokens),
		Cookies:           cookies,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		SecurityHeaders: securityHeadersConfig(cfg),
		RateLimiter:     rl,
		AuthMetrics:     collector,
		HTTPMetrics:     collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		Credentials: userService,
		Tokens:      tokens,
		Provider:    authService,
		Users:       userService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		UserService:    userService,
		RatingPipeline: pipeline,
	}

	return &server{router: handler.NewRouter(deps), rateLimiter: rl}, nil
}

// newRegistry はプロセス・ランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := newServer(cfg, db, newRegistry())
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを日次で実行し、シグナル受信で停止する。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	job := cleanup.NewSessionCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default(), nil)

	slog.Info("worker starting", slog.Duration("cleanup_interval", cleanup.DefaultInterval))
	job.Start(ctx, cleanup.DefaultInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// directionが"down"の場合は直近の1つを戻し、それ以外は未適用分をすべて適用する。
func runMigrate(cfg *config.Config, direction MigrateDirection) error {
	slog.Info("running database migrations",
		slog.String("direction", string(direction)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	apply := database.RunMigrations
	if direction == MigrateDown {
		apply = database.RollbackLast
	}
	state, err := apply(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed",
		slog.Uint64("schema_version", uint64(state.Version)),
		slog.Bool("dirty", state.Dirty),
	)
	return nil
}

// runCreateAdmin は環境変数 ADMIN_NAME / ADMIN_EMAIL / ADMIN_PASSWORD から管理者を作成する。
// 管理者の作成APIは管理者のみが呼べるため、最初の1人はこのサブコマンドで作る。
func runCreateAdmin(cfg *config.Config) error {
	reg := user.LocalRegistration{
		Name:     os.Getenv("ADMIN_NAME"),
		Email:    os.Getenv("ADMIN_EMAIL"),
		Password: os.Getenv("ADMIN_PASSWORD"),
	}
	if reg.Email == "" || reg.Password == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set")
	}
	if reg.Name == "" {
		reg.Name = "Administrator"
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return createAdmin(context.Background(), user.NewService(repository.NewPostgresUserRepo(db)), reg)
}

// adminCreator は管理者作成に必要なユーザー操作。
type adminCreator interface {
	CreateWithRole(ctx context.Context, reg user.LocalRegistration, role model.Role) (*model.User, error)
}

func createAdmin(ctx context.Context, users adminCreator, reg user.LocalRegistration) error {
	u, err := users.CreateWithRole(ctx, reg, model.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	slog.Info("admin user created", slog.String("user_id", u.ID))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

// securityHeadersConfig はHTTPS配信時のみHSTSを有効にする。
func securityHeadersConfig(cfg *config.Config) middleware.SecurityHeadersConfig {
	if !cfg.CookieSecure {
		return middleware.SecurityHeadersConfig{}
	}
	return middleware.SecurityHeadersConfig{HSTSMaxAge: hstsMaxAge}
}
