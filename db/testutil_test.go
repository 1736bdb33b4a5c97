package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"Gin_postgres_redis_loan_manager/config"
	"Gin_postgres_redis_loan_manager/models"

	"github.com/google/uuid"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repo    *Repo
	clock   *time.Time
	manager models.User
	student models.User
	other   models.User
	cat     models.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := Open(config.Config{
		DBDriver:    "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "loans.db"),
		SlowQuery:   time.Second,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	now := t0
	f := &fixture{repo: NewRepo(gdb, 5*time.Second), clock: &now}
	f.repo.Now = func() time.Time { return *f.clock }

	f.manager = f.user(t, "resp@school.test", models.RoleManager)
	f.student = f.user(t, "alice@school.test", models.RoleStudent)
	f.other = f.user(t, "bob@school.test", models.RoleStudent)

	f.cat = models.Category{Name: "Oscilloscopes"}
	if err := f.repo.CreateCategory(context.Background(), &f.cat, f.as(f.manager)); err != nil {
		t.Fatalf("create category: %v", err)
	}
	return f
}

func (f *fixture) as(u models.User) Actor { return Actor{ID: u.ID, Origin: "127.0.0.1"} }

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func (f *fixture) user(t *testing.T, email string, role models.Role) models.User {
	t.Helper()
	u := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "x",
		LastName:     "Test",
		FirstName:    email[:3],
		Role:         role,
		Status:       models.UserActive,
	}
	if role == models.RoleStudent {
		n := fmt.Sprintf("%07d", len(email)*1000+int(email[0]))
		u.StudentNumber = &n
	}
	if err := f.repo.CreateUser(context.Background(), &u, Actor{}); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (f *fixture) item(t *testing.T, total int) models.EquipmentItem {
	t.Helper()
	it := models.EquipmentItem{Name: "Scope", CategoryID: f.cat.ID, TotalQuantity: total, UnitPrice: 45000}
	if err := f.repo.CreateItem(context.Background(), &it, f.as(f.manager)); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return it
}

func (f *fixture) request(t *testing.T, who models.User, itemID string, qty int) models.LoanRequest {
	t.Helper()
	req := models.LoanRequest{
		RequesterID:   who.ID,
		ItemID:        itemID,
		Quantity:      qty,
		StartDate:     f.clock.Add(24 * time.Hour),
		EndDate:       f.clock.Add(8 * 24 * time.Hour),
		Justification: "lab work",
		Project:       "TP3",
	}
	if err := f.repo.CreateRequest(context.Background(), &req, f.as(who)); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func (f *fixture) reload(t *testing.T, id string) models.EquipmentItem {
	t.Helper()
	it, err := f.repo.FindItemByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find item: %v", err)
	}
	return *it
}

// checkBooks asserts 0 <= available <= total and that open loans account for
// exactly the checked-out units.
func (f *fixture) checkBooks(t *testing.T, id string) {
	t.Helper()
	it := f.reload(t, id)
	if !it.Consistent() {
		t.Fatalf("inconsistent quantities: available=%d total=%d", it.AvailableQuantity, it.TotalQuantity)
	}
	onLoan, err := outstanding(f.repo.DB, id)
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	if onLoan != it.CheckedOut() {
		t.Fatalf("open loans hold %d units, item reports %d checked out", onLoan, it.CheckedOut())
	}
}
