package app

import (
	"context"
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

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/hitoshi/companionhub/internal/assignment"
	"github.com/hitoshi/companionhub/internal/auth"
	"github.com/hitoshi/companionhub/internal/catalog"
	"github.com/hitoshi/companionhub/internal/chat"
	"github.com/hitoshi/companionhub/internal/config"
	"github.com/hitoshi/companionhub/internal/conversation"
	"github.com/hitoshi/companionhub/internal/database"
	"github.com/hitoshi/companionhub/internal/handler"
	"github.com/hitoshi/companionhub/internal/logger"
	"github.com/hitoshi/companionhub/internal/metrics"
	"github.com/hitoshi/companionhub/internal/middleware"
	"github.com/hitoshi/companionhub/internal/recruitment"
	"github.com/hitoshi/companionhub/internal/repository"
	"github.com/hitoshi/companionhub/internal/security"
	"github.com/hitoshi/companionhub/internal/seed"
	"github.com/hitoshi/companionhub/internal/telemetry"
	"github.com/hitoshi/companionhub/internal/worker/cleanup"
)

// Version はビルド時に -ldflags "-X .../internal/app.Version=..." で上書きされる。
var Version = "dev"

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、設定されたレベルでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer, configPath string) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, "info")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.Log.Level)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	opts, err := ParseArgs(args, w)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if opts.Command == CommandHealthcheck {
		port := opts.Port
		if port == "" {
			port = os.Getenv("SERVER_PORT")
		}
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w, opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(opts.Command)),
		slog.String("version", Version),
		slog.String("port", cfg.Server.Port),
		slog.String("base_url", cfg.Server.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch opts.Command {
	case CommandMigrate:
		return runMigrate(cfg, opts.Down)
	case CommandSeed:
		seedFile := opts.SeedFile
		if seedFile == "" {
			seedFile = cfg.Seed.File
		}
		return runSeed(ctx, cfg, seedFile)
	case CommandCleanupSessions:
		return runCleanupSessions(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// backends はサブコマンド間で共有する永続化層の接続。
type backends struct {
	db    *sqlx.DB
	redis *redis.Client
}

// openBackends はPostgreSQLと、設定されていればRedisに接続する。
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	db, err := database.Open(cfg.Database.URL, database.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	b := &backends{db: db}
	if cfg.Redis.URL != "" {
		client, err := database.OpenRedis(ctx, cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			db.Close()
			return nil, err
		}
		b.redis = client
		slog.Info("redis session store enabled")
	}
	return b, nil
}

// sessions はRedisが有効ならRedis、そうでなければPostgreSQLのセッションリポジトリを返す。
func (b *backends) sessions() repository.SessionRepository {
	if b.redis != nil {
		return repository.NewRedisSessionRepo(b.redis)
	}
	return repository.NewPostgresSessionRepo(b.db)
}

func (b *backends) healthChecks() map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"database": b.db}
	if b.redis != nil {
		checks["redis"] = handler.RedisPinger(b.redis)
	}
	return checks
}

func (b *backends) Close() {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if err := b.db.Close(); err != nil {
		slog.Warn("failed to close database", slog.String("error", err.Error()))
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, cfg.Otel, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリ
	userRepo := repository.NewPostgresUserRepo(b.db)
	companionRepo := repository.NewPostgresCompanionRepo(b.db)
	assignRepo := repository.NewPostgresAssignmentRepo(b.db)
	subRepo := repository.NewPostgresSubscriptionRepo(b.db)
	pointRepo := repository.NewPostgresPointTransactionRepo(b.db)
	txManager := repository.NewPostgresTxManager(b.db)
	sessionRepo := b.sessions()

	// 3. セキュリティ
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. ドメインサービス
	authService := auth.NewService(userRepo, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.Session.MaxAge,
		BcryptCost:    cfg.Session.BcryptCost,
	})
	assignService := assignment.NewService(assignRepo, companionRepo, userRepo)
	catalogService := catalog.NewService(catalog.Deps{
		Companions:    companionRepo,
		Subscriptions: subRepo,
		Users:         userRepo,
		Assignments:   assignRepo,
		Checker:       assignService,
		Tx:            txManager,
		Sanitizer:     sanitizer,
		SSRFGuard:     ssrfGuard,
		Metrics:       collector,
	})
	recruitService := recruitment.NewService(userRepo, companionRepo, subRepo, pointRepo, txManager, collector)

	if cfg.Gemini.APIKey == "" {
		slog.Warn("GEMINI_API_KEY is not set; chat will always return the fallback reply")
	}
	gateway := conversation.NewGeminiGateway(cfg.Gemini, ssrfGuard, sanitizer, conversation.WithMetrics(collector))
	chatService := chat.NewService(companionRepo, subRepo, gateway, collector)

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimit.General, cfg.RateLimit.Chat),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionResolver:    authService,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure(),
			CookieDomain: cfg.Session.CookieDomain,
		},
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),
		Metrics:     collector,

		HealthChecks:   b.healthChecks(),
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.Session.CookieDomain,
			CookieSecure: cfg.CookieSecure(),
		},

		CatalogService:     catalogService,
		AssignmentService:  assignService,
		RecruitmentService: recruitService,
		ChatService:        chatService,
		UserService:        authService,
	})

	// 6. HTTPサーバー
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// downが0の場合はすべての未適用マイグレーションを適用し、正の場合はその数だけ巻き戻す。
func runMigrate(cfg *config.Config, down int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.Database.URL)),
		slog.Int("down", down),
	)

	if down > 0 {
		if err := database.RollbackMigrations(cfg.Database.URL, down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	} else if err := database.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runSeed は初期ユーザーとコンパニオンを投入する。何度実行しても重複は作らない。
func runSeed(ctx context.Context, cfg *config.Config, seedFile string) error {
	fixture, err := seed.Load(seedFile)
	if err != nil {
		return fmt.Errorf("failed to load seed data: %w", err)
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	userRepo := repository.NewPostgresUserRepo(b.db)
	authService := auth.NewService(userRepo, b.sessions(), auth.ServiceConfig{
		SessionMaxAge: cfg.Session.MaxAge,
		BcryptCost:    cfg.Session.BcryptCost,
	})
	seeder := seed.NewSeeder(authService, userRepo,
		repository.NewPostgresCompanionRepo(b.db),
		repository.NewPostgresAssignmentRepo(b.db),
	)

	res, err := seeder.Run(ctx, fixture)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("seed completed",
		slog.Int("users_created", res.UsersCreated),
		slog.Int("users_skipped", res.UsersSkipped),
		slog.Int("companions_created", res.CompanionsCreated),
		slog.Int("companions_skipped", res.CompanionsSkipped),
		slog.Int("assignments_created", res.AssignmentsCreated),
	)
	return nil
}

// runCleanupSessions は期限切れセッションを1回削除する。
func runCleanupSessions(ctx context.Context, cfg *config.Config) error {
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	job := cleanup.NewSessionCleanupJob(b.sessions(), slog.Default(), nil)
	if _, err := job.Run(ctx); err != nil {
		return err
	}
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

// maskDatabaseURL はデータベースURLのパスワードとクエリをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
