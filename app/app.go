package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"Gin_postgres_redis_loan_manager/blob"
	"Gin_postgres_redis_loan_manager/config"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/metrics"
	"Gin_postgres_redis_loan_manager/services"
	"Gin_postgres_redis_loan_manager/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// 简化别名，便于 handlers 调用
type Ctx = gin.Context
type H = gin.H

const (
	ceremonyTTL   = 5 * time.Minute
	idempotentTTL = 24 * time.Hour
	loginAttempts = 5
	loginWindow   = 15 * time.Minute
	mailWorkers   = 2
	mailQueue     = 256
)

// App 聚合各依赖；生命周期归进程入口所有
type App struct {
	Router  *gin.Engine
	DB      *gorm.DB
	RDB     *redis.Client
	WA      *webauthn.WebAuthn
	Config  config.Config
	Repo    *db.Repo
	Blobs   blob.Store
	Metrics *metrics.Metrics

	Tokens     *session.TokenCodec
	Sessions   *session.AppSessionStore
	Ceremonies *session.Store
	Mail       *services.EmailDispatcher

	Auth      *services.AuthService
	Inventory *services.InventoryService
	Loans     *services.LoanService
	Notes     *services.NotificationService
	Users     *services.UserService
	Sweeper   *services.Sweeper
}

// New opens the store (and migrates it), connects Redis and wires the services.
// Routes are registered by the caller.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	dbConn, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(dbConn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: 0})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	// --- WebAuthn RP ---
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.AppName + " Passkeys",
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}

	blobs, err := blob.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	a := &App{
		DB: dbConn, RDB: rdb, WA: wa, Config: cfg, Blobs: blobs,
		Repo:       db.NewRepo(dbConn, cfg.StatementTimeout),
		Metrics:    metrics.New(),
		Tokens:     session.NewTokenCodec(cfg.JWTSecret, cfg.TokenTTL),
		Sessions:   session.NewAppSessionStore(rdb, cfg.TokenTTL),
		Ceremonies: session.NewStore(rdb, ceremonyTTL),
	}
	if cfg.EmailNotifications {
		a.Mail = services.NewEmailDispatcher(services.NewSMTPMailer(cfg), mailWorkers, mailQueue, a.Metrics)
	}

	a.Auth = services.NewAuthService(a.Repo, a.Tokens, a.Sessions,
		session.NewLoginThrottle(rdb, loginAttempts, loginWindow), cfg)
	a.Notes = services.NewNotificationService(a.Repo, a.Mail, cfg.NotificationRetention, cfg.ListMaxLimit)
	a.Notes.AppName, a.Notes.WebOrigin = cfg.AppName, cfg.WebOrigin
	a.Loans = services.NewLoanService(a.Repo, a.Notes, a.Metrics,
		session.NewIdempotencyCache(rdb, idempotentTTL),
		cfg.MaxPerRequest, cfg.LateFeeDailyRate, cfg.ListMaxLimit)
	a.Inventory = services.NewInventoryService(a.Repo, blobs, cfg.ListMaxLimit)
	a.Users = services.NewUserService(a.Repo, a.Sessions, cfg.ListMaxLimit)
	a.Sweeper = services.NewSweeper(a.Loans, a.Notes, a.Metrics)

	// --- Gin ---
	r := gin.New()
	r.Use(gin.Recovery(), AccessLog(), Observe(a.Metrics))
	useCORS(r, cfg)
	a.Router = r
	return a, nil
}

// MustNew is New for the process entry point.
func MustNew(cfg config.Config) *App {
	a, err := New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	return a
}

// SetClock swaps the time source of the store and every service.
func (a *App) SetClock(now func() time.Time) {
	a.Repo.Now = now
	a.Loans.Now = now
	a.Notes.Now = now
	a.Users.Now = now
	a.Sweeper.Now = now
}

// Close drains the mail queue, then releases Redis and the database pool.
func (a *App) Close() {
	if a.Mail != nil {
		a.Mail.Shutdown()
	}
	_ = a.RDB.Close()
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
