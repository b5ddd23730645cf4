package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/daochat/internal/auth"
	"github.com/hitoshi/daochat/internal/chat"
	"github.com/hitoshi/daochat/internal/config"
	"github.com/hitoshi/daochat/internal/conversation"
	"github.com/hitoshi/daochat/internal/database"
	"github.com/hitoshi/daochat/internal/gateway"
	"github.com/hitoshi/daochat/internal/handler"
	"github.com/hitoshi/daochat/internal/logger"
	"github.com/hitoshi/daochat/internal/metrics"
	"github.com/hitoshi/daochat/internal/middleware"
	"github.com/hitoshi/daochat/internal/presence"
	"github.com/hitoshi/daochat/internal/repository"
	"github.com/hitoshi/daochat/internal/room"
	"github.com/hitoshi/daochat/internal/security"
	"github.com/hitoshi/daochat/internal/typing"
	"github.com/hitoshi/daochat/internal/user"
	"github.com/hitoshi/daochat/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. .envがあれば読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再初期化
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, rest)
	default:
		return runServe(ctx, cfg)
	}
}

// Server はHTTPサーバーとWebSocketゲートウェイをまとめたもの。
type Server struct {
	HTTP        *http.Server
	Hub         *gateway.Hub
	RateLimiter *middleware.RateLimiter
}

// NewServer は全依存関係をワイヤリングしたServerを返す。DBへの接続は行わない。
func NewServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) *Server {
	base := slog.Default()

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	convRepo := repository.NewPostgresConversationRepo(db)
	messageRepo := repository.NewPostgresMessageRepo(db)

	// 2. 認証サービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.NewTokenIssuer(cfg.SessionSecret, cfg.SocketTokenTTL),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 3. リアルタイム層の初期化
	collector := metrics.NewCollector(reg)
	rooms := room.NewManager()
	relay := chat.NewRelay(chat.Deps{
		Conversations: convRepo,
		Messages:      messageRepo,
		Rooms:         rooms,
		Typing:        typing.NewTracker(),
		Sanitizer:     security.NewMessageSanitizer(),
		Metrics:       collector,
		Logger:        base,
	}, chat.Config{MessageMaxLength: cfg.MessageMaxLength})

	hub := gateway.NewHub(gateway.Deps{
		Authenticator: authService,
		Presence:      presence.NewRegistry(),
		Rooms:         rooms,
		Relay:         relay,
		Metrics:       collector,
		Logger:        base,
	}, gateway.Config{
		PingInterval:   cfg.WSPingInterval,
		PongWait:       cfg.WSPongWait,
		WriteWait:      cfg.WSWriteWait,
		MaxMessageSize: cfg.WSMaxMessageSize,
		SendBuffer:     cfg.WSSendBuffer,
		EventRate:      cfg.WSEventRate,
		EventBurst:     cfg.WSEventBurst,
		AllowedOrigin:  cfg.CORSAllowedOrigin,
		TypingTTL:      cfg.TypingTTL,
	})

	// 4. ドメインサービスの初期化
	convService := conversation.NewService(userRepo, convRepo, messageRepo)
	userService := user.NewService(userRepo, sessionRepo, hub)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig().PerMinute(cfg.RateLimitGeneral))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         base,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ConversationService: convService,
		Notifier:            hub,
		UserService:         userService,

		SocketHandler: hub,
	})

	// WriteTimeoutはハイジャック済みのWebSocket接続には適用されない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{HTTP: server, Hub: hub, RateLimiter: rateLimiter}
}

// Serve はctxが終了するまでHTTPサーバーとゲートウェイを動かし、その後グレースフルに停止する。
func (s *Server) Serve(ctx context.Context) error {
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.Hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", s.HTTP.Addr))
		if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.RateLimiter.Stop()
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	return s.Shutdown()
}

// Shutdown はHTTPサーバー、WebSocket接続、レートリミッタの順に停止する。
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	defer s.RateLimiter.Stop()

	if err := s.HTTP.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// http.Server.Shutdownはハイジャック済みの接続を待たないため個別に閉じる
	if err := s.Hub.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクスレジストリ
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 3. ワイヤリングと起動
	return NewServer(cfg, db, reg).Serve(ctx)
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの掃除をスケジュール実行し、シグナル受信で停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの起動（ブロッキング）
	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), logger.Component(slog.Default(), "cleanup"))
	if err := job.Start(ctx, cfg.SessionCleanupSchedule); err != nil {
		return fmt.Errorf("cleanup worker failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, args []string) error {
	direction, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Bool("down", direction.Down),
	)

	var version uint
	if direction.Down {
		version, err = database.RollbackMigrations(cfg.DatabaseURL, direction.Steps)
	} else {
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
