package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/canapi/internal/health"
	"github.com/jmerrifield20/canapi/internal/registry/auth"
	"github.com/jmerrifield20/canapi/internal/registry/handler"
	"github.com/jmerrifield20/canapi/pkg/source"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("registry exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("registry")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("registry.port", 8080)
	viper.SetDefault("registry.docs_dir", "apis")
	viper.SetDefault("registry.issuer", "canapi-registry")
	viper.SetDefault("registry.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("registry.rate_limit_rps", 20)
	viper.SetDefault("registry.publish_secret", "")
	viper.SetDefault("registry.token_ttl", "24h")
	viper.SetDefault("database.url", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Document store ───────────────────────────────────────────────────────
	checker := health.New(2*time.Second, logger)
	var store handler.Store
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pg := source.NewPostgres(db, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
		checker.Register("postgres", db.Ping)
		logger.Info("document store: postgres")
	} else {
		dir := viper.GetString("registry.docs_dir")
		local := source.NewLocal(dir)
		store = local
		checker.Register("docs_dir", func(ctx context.Context) error {
			_, err := local.List(ctx)
			return err
		})
		logger.Info("document store: directory", zap.String("dir", dir))
	}

	// ── Publish tokens ───────────────────────────────────────────────────────
	var issuer *auth.Issuer
	if secret := viper.GetString("registry.publish_secret"); secret != "" {
		var err error
		issuer, err = auth.NewIssuer(secret, viper.GetString("registry.issuer"), viper.GetDuration("registry.token_ttl"))
		if err != nil {
			return fmt.Errorf("publish tokens: %w", err)
		}
	} else {
		logger.Warn("registry.publish_secret not set, serving read-only")
	}

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestID())

	corsOrigins := viper.GetStringSlice("registry.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", handler.RequestIDHeader},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	if rps := viper.GetFloat64("registry.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, int(rps*2)+1))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", checker.Handler())
	router.GET("/metrics", handler.MetricsHandler())

	handler.NewDocumentHandler(store, issuer, logger).Register(router.Group("/v1"))

	// ── Serve ─────────────────────────────────────────────────────────────────
	httpPort := viper.GetInt("registry.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("registry HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http listen: %w", err)
	case <-ctx.Done():
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	logger.Info("shutting down registry...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	logger.Info("registry stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
