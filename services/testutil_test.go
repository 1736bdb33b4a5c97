package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"Gin_postgres_redis_loan_manager/blob"
	"Gin_postgres_redis_loan_manager/config"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/metrics"
	"Gin_postgres_redis_loan_manager/models"
	"Gin_postgres_redis_loan_manager/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const testSecret = "test-secret-test-secret-test-secret"

type env struct {
	cfg      config.Config
	clock    *time.Time
	repo     *db.Repo
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	metrics  *metrics.Metrics
	sessions *session.AppSessionStore

	auth      *AuthService
	loans     *LoanService
	notes     *NotificationService
	inventory *InventoryService
	users     *UserService
	sweeper   *Sweeper

	manager *Identity
	alice   *Identity
	bob     *Identity
	cat     models.Category
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := config.Config{
		DBDriver:              "sqlite",
		DatabaseURL:           filepath.Join(t.TempDir(), "loans.db"),
		SlowQuery:             time.Second,
		AdminEmails:           []string{"resp@school.test"},
		LateFeeDailyRate:      1000,
		MaxPerRequest:         10,
		ListMaxLimit:          100,
		NotificationRetention: 30 * 24 * time.Hour,
		TokenTTL:              time.Hour,
	}
	gdb, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := t0
	e := &env{cfg: cfg, clock: &now, mr: mr, rdb: rdb, metrics: metrics.New()}
	clock := func() time.Time { return *e.clock }

	e.repo = db.NewRepo(gdb, 5*time.Second)
	e.repo.Now = clock
	e.sessions = session.NewAppSessionStore(rdb, time.Hour)

	e.auth = NewAuthService(e.repo, session.NewTokenCodec(testSecret, time.Hour), e.sessions,
		session.NewLoginThrottle(rdb, 5, 15*time.Minute), cfg)
	e.auth.HashCost = bcrypt.MinCost

	e.notes = NewNotificationService(e.repo, nil, cfg.NotificationRetention, cfg.ListMaxLimit)
	e.notes.Now = clock
	e.loans = NewLoanService(e.repo, e.notes, e.metrics, session.NewIdempotencyCache(rdb, 24*time.Hour),
		cfg.MaxPerRequest, cfg.LateFeeDailyRate, cfg.ListMaxLimit)
	e.loans.Now = clock

	blobs, err := blob.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("blob fs: %v", err)
	}
	e.inventory = NewInventoryService(e.repo, blobs, cfg.ListMaxLimit)
	e.users = NewUserService(e.repo, e.sessions, cfg.ListMaxLimit)
	e.users.Now = clock
	e.sweeper = NewSweeper(e.loans, e.notes, e.metrics)
	e.sweeper.Now = clock

	e.manager = e.register(t, "resp@school.test", models.RoleInstructor, "")
	e.alice = e.register(t, "alice@school.test", models.RoleStudent, "2100001")
	e.bob = e.register(t, "bob@school.test", models.RoleStudent, "2100002")

	c, err := e.inventory.CreateCategory(context.Background(), CategoryInput{Name: "Oscilloscopes"}, e.manager.Actor("127.0.0.1"))
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	e.cat = *c
	return e
}

func (e *env) advance(d time.Duration) { *e.clock = e.clock.Add(d) }

// register signs a user up and authenticates the returned token.
func (e *env) register(t *testing.T, email string, role models.Role, studentNumber string) *Identity {
	t.Helper()
	ctx := context.Background()
	sess, err := e.auth.Register(ctx, RegisterInput{
		Email:         email,
		Password:      "Secret123",
		LastName:      "Test",
		FirstName:     "User",
		Role:          role,
		StudentNumber: studentNumber,
	}, "127.0.0.1", "go-test")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	id, err := e.auth.Authenticate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("authenticate %s: %v", email, err)
	}
	return id
}

func (e *env) item(t *testing.T, total int) *models.EquipmentItem {
	t.Helper()
	it, err := e.inventory.CreateItem(context.Background(), ItemInput{
		Name:          "Oscilloscope Rigol DS1054Z",
		CategoryID:    e.cat.ID,
		TotalQuantity: total,
		UnitPrice:     45000,
	}, e.manager.Actor("127.0.0.1"))
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return it
}

func (e *env) requestInput(itemID string, qty int) RequestInput {
	return RequestInput{
		ItemID:        itemID,
		Quantity:      qty,
		StartDate:     e.clock.Add(24 * time.Hour),
		EndDate:       e.clock.Add(8 * 24 * time.Hour),
		Justification: "TP d'électronique analogique",
		Project:       "TP3",
		Urgency:       models.UrgencyNormal,
	}
}

func (e *env) request(t *testing.T, who *Identity, itemID string, qty int) *models.LoanRequest {
	t.Helper()
	req, err := e.loans.CreateRequest(context.Background(), e.requestInput(itemID, qty), who, "127.0.0.1")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func (e *env) available(t *testing.T, itemID string) int {
	t.Helper()
	it, err := e.repo.FindItemByID(context.Background(), itemID)
	if err != nil {
		t.Fatalf("find item: %v", err)
	}
	return it.AvailableQuantity
}

func (e *env) inbox(t *testing.T, who *Identity) db.NotificationPage {
	t.Helper()
	p, err := e.notes.List(context.Background(), db.NotificationFilter{UserID: who.User.ID})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return p
}
