package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	_ "userauth/docs"
	"userauth/internal/config"
	"userauth/internal/handlers"
	"userauth/internal/logging"
	"userauth/internal/migrations"
	"userauth/internal/middleware"
	"userauth/internal/ratelimit"
	"userauth/internal/repositories"
	"userauth/internal/routes"
	"userauth/internal/services"
)

// App is a fully wired HTTP service.
type App struct {
	Engine *gin.Engine

	cfg     *config.Config
	log     logging.Logger
	closers []func() error
}

func Run() {
	cfg := config.LoadConfig()
	log := logging.New(os.Stdout, cfg.App.LogLevel, cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "[app] init failed", "err", err)
		os.Exit(1)
	}

	err = a.Serve(ctx)
	a.Close()
	if err != nil {
		log.Error(ctx, "[app] server stopped with error", "err", err)
		os.Exit(1)
	}
}

// New builds storage, services and the router from cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	// === Storage ===
	users, err := a.openUsers(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	health := map[string]handlers.Pinger{"database": users}

	// === Rate limits ===
	otpLimiter, resetLimiter := ratelimit.Noop(), ratelimit.Noop()
	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		otpLimiter = ratelimit.NewRedisLimiter(rdb, "resend-otp", cfg.RateLimit.Limit, cfg.RateLimit.Window)
		resetLimiter = ratelimit.NewRedisLimiter(rdb, "forgot-password", cfg.RateLimit.Limit, cfg.RateLimit.Window)
		health["redis"] = handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	// === Services ===
	var mail services.EmailService
	if cfg.Email.LogOnly {
		mail = services.NewLogEmailService(log)
	} else {
		mail = services.NewEmailService(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPassword,
			cfg.Email.FromEmail,
		)
	}

	authService, err := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.BcryptCost)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("auth service: %w", err)
	}
	accounts := services.NewAccountService(users, authService, mail, log, services.AccountConfig{
		SessionTTL:  cfg.Auth.SessionTTL,
		FrontendURL: cfg.App.FrontendURL,
		LogOTP:      !cfg.IsProduction(),
	}, services.WithLimiters(otpLimiter, resetLimiter))

	// === Handlers ===
	cookie := handlers.CookieConfig{TTL: cfg.Auth.CookieTTL, Secure: cfg.IsProduction()}
	authHandler := handlers.NewAuthHandler(accounts, cookie, log)
	userHandler := handlers.NewUserHandler(accounts, cookie, log)
	healthHandler := handlers.NewHealthHandler(health)

	// === Gin ===
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS(cfg.Server.CORSOrigin))

	routes.SetupRoutes(router, authHandler, userHandler, healthHandler, accounts)

	a.Engine = router
	return a, nil
}

func (a *App) openUsers(ctx context.Context) (repositories.UserRepository, error) {
	if a.cfg.Database.Driver == "memory" {
		a.log.Warn(ctx, "[app] using in-memory user store, data is lost on restart")
		return repositories.NewMemoryUserRepository(), nil
	}

	db, err := sql.Open("postgres", a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if a.cfg.Database.MigrateOnBoot {
		if err := migrations.Up(ctx, db); err != nil {
			return nil, err
		}
		a.log.Info(ctx, "[app] migrations applied")
	}
	return repositories.NewUserRepository(db), nil
}

// Serve listens until ctx is cancelled, then drains in-flight requests.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      a.Engine,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info(ctx, "[app] server started", "addr", srv.Addr, "env", a.cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.log.Info(shutdownCtx, "[app] shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases storage and cache connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn(context.Background(), "[app] close failed", "err", err)
		}
	}
	a.closers = nil
}
