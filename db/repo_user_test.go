package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"

	"github.com/google/uuid"
)

func TestCreateUserUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dup := models.User{ID: uuid.NewString(), Email: "ALICE@school.test", PasswordHash: "x", LastName: "A", FirstName: "B", Role: models.RoleStudent}
	if err := f.repo.CreateUser(ctx, &dup, Actor{}); !errors.Is(err, apperr.ErrDuplicateEmail) {
		t.Fatalf("duplicate email: %v", err)
	}

	dup = models.User{ID: uuid.NewString(), Email: "carol@school.test", PasswordHash: "x", LastName: "A", FirstName: "B", Role: models.RoleStudent, StudentNumber: f.student.StudentNumber}
	if err := f.repo.CreateUser(ctx, &dup, Actor{}); !errors.Is(err, apperr.ErrDuplicateStudent) {
		t.Fatalf("duplicate student number: %v", err)
	}

	u, err := f.repo.FindUserByEmail(ctx, " Alice@School.test ")
	if err != nil || u.ID != f.student.ID {
		t.Fatalf("lookup by email: %v", err)
	}
	if _, err := f.repo.FindUserByID(ctx, "nope"); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Fatalf("missing user: %v", err)
	}
}

func TestLastManagerIsProtected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.repo.SetUserRole(ctx, f.manager.ID, models.RoleInstructor, f.as(f.manager)); !errors.Is(err, apperr.ErrLastManager) {
		t.Fatalf("demote last manager: %v", err)
	}
	if _, err := f.repo.SetUserStatus(ctx, f.manager.ID, models.UserSuspended, f.as(f.manager)); !errors.Is(err, apperr.ErrLastManager) {
		t.Fatalf("suspend last manager: %v", err)
	}

	if _, err := f.repo.SetUserRole(ctx, f.other.ID, models.RoleManager, f.as(f.manager)); err != nil {
		t.Fatalf("promote: %v", err)
	}
	u, err := f.repo.SetUserStatus(ctx, f.manager.ID, models.UserInactive, f.as(f.other))
	if err != nil || u.Status != models.UserInactive {
		t.Fatalf("deactivate with a second manager: %v", err)
	}
	ids, _ := f.repo.ActiveManagerIDs(ctx)
	if len(ids) != 1 || ids[0] != f.other.ID {
		t.Fatalf("active managers = %v", ids)
	}
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.item(t, 2)
	req := f.request(t, f.student, it.ID, 1)
	loan, _, _ := f.repo.ApproveRequest(ctx, req.ID, "", f.as(f.manager))

	if err := f.repo.DeleteUser(ctx, f.student.ID, f.as(f.manager)); !errors.Is(err, apperr.ErrUserHasLoans) {
		t.Fatalf("delete borrower: %v", err)
	}
	if _, _, err := f.repo.ReturnLoan(ctx, loan.ID, ReturnInput{Condition: models.ReturnGood}, f.as(f.manager)); err != nil {
		t.Fatalf("return: %v", err)
	}
	if err := f.repo.DeleteUser(ctx, f.student.ID, f.as(f.manager)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.repo.FindLoan(ctx, loan.ID); err != nil {
		t.Fatalf("loan history must survive the borrower: %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	name, phone := "Martin", "0102030405"
	u, err := f.repo.UpdateProfile(ctx, f.student.ID, ProfilePatch{LastName: &name, Phone: &phone}, f.as(f.student))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u.LastName != name || u.Phone != phone || u.Role != models.RoleStudent {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestRegisterWithInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.repo.CreateInvite(ctx, "Dana@School.test", "tok-1", models.RoleManager, t0.Add(time.Hour), f.manager.Email); err != nil {
		t.Fatalf("invite: %v", err)
	}
	open, _ := f.repo.HasOpenInvite(ctx, "dana@school.test")
	if !open {
		t.Fatal("expected an open invite")
	}

	wrong := models.User{ID: uuid.NewString(), Email: "eve@school.test", PasswordHash: "x", LastName: "E", FirstName: "E", Role: models.RoleStudent}
	if err := f.repo.RegisterWithInvite(ctx, &wrong, "tok-1", Actor{}); !errors.Is(err, apperr.ErrInvalidInvite) {
		t.Fatalf("invite for another email: %v", err)
	}

	u := models.User{ID: uuid.NewString(), Email: "dana@school.test", PasswordHash: "x", LastName: "D", FirstName: "D", Role: models.RoleStudent}
	if err := f.repo.RegisterWithInvite(ctx, &u, "tok-1", Actor{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Role != models.RoleManager {
		t.Fatalf("role = %s, want invite role", u.Role)
	}

	again := models.User{ID: uuid.NewString(), Email: "dana@school.test", PasswordHash: "x", LastName: "D", FirstName: "D"}
	if err := f.repo.RegisterWithInvite(ctx, &again, "tok-1", Actor{}); !errors.Is(err, apperr.ErrInvalidInvite) {
		t.Fatalf("reuse: %v", err)
	}
	if err := f.repo.RegisterWithInvite(ctx, &again, "unknown", Actor{}); !errors.Is(err, apperr.ErrInvalidInvite) {
		t.Fatalf("unknown token: %v", err)
	}
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := t0.Add(-time.Minute)
	ns := []models.Notification{
		{UserID: f.student.ID, Title: "Demande approuvée", Severity: models.SeveritySuccess, Category: models.CategoryRequest},
		{UserID: f.student.ID, Title: "Rappel", Severity: models.SeverityWarning, Category: models.CategoryReminder},
		{UserID: f.student.ID, Title: "Expired", ExpiresAt: &past},
		{UserID: f.other.ID, Title: "Not yours"},
	}
	if err := f.repo.CreateNotifications(ctx, ns); err != nil {
		t.Fatalf("create: %v", err)
	}

	page, err := f.repo.ListNotifications(ctx, NotificationFilter{UserID: f.student.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Pagination.Total != 2 || page.Unread != 2 {
		t.Fatalf("total=%d unread=%d, want 2/2", page.Pagination.Total, page.Unread)
	}

	if err := f.repo.MarkNotificationRead(ctx, ns[3].ID, f.student.ID); !errors.Is(err, apperr.ErrNotificationGone) {
		t.Fatalf("read someone else's: %v", err)
	}
	if err := f.repo.MarkNotificationRead(ctx, ns[0].ID, f.student.ID); err != nil {
		t.Fatalf("read: %v", err)
	}
	page, _ = f.repo.ListNotifications(ctx, NotificationFilter{UserID: f.student.ID, UnreadOnly: true})
	if page.Pagination.Total != 1 || page.Unread != 1 {
		t.Fatalf("after read total=%d unread=%d", page.Pagination.Total, page.Unread)
	}
	n, err := f.repo.MarkAllNotificationsRead(ctx, f.student.ID)
	if err != nil || n != 2 {
		t.Fatalf("read all: n=%d err=%v", n, err)
	}

	purged, err := f.repo.PurgeNotifications(ctx, time.Now().Add(48*time.Hour), 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	// the two read rows and the expired one go; bob's unread row stays
	if purged != 3 {
		t.Fatalf("purged = %d, want 3", purged)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.item(t, 5)
	f.item(t, 2)
	req := f.request(t, f.student, it.ID, 3)
	f.request(t, f.other, it.ID, 1)
	if _, _, err := f.repo.ApproveRequest(ctx, req.ID, "", f.as(f.manager)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	s, err := f.repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{Items: 2, UnitsTotal: 7, UnitsAvailable: 4, UnitsCheckedOut: 3, ActiveLoans: 1, PendingRequests: 1, Users: 3}
	if s != want {
		t.Fatalf("stats = %+v, want %+v", s, want)
	}
}

func TestNormalizeList(t *testing.T) {
	p, err := NormalizeList(ListParams{Q: "  scope "}, 100)
	if err != nil || p.Page != 1 || p.Limit != DefaultLimit || p.Order != "desc" || p.Q != "scope" {
		t.Fatalf("defaults: %+v %v", p, err)
	}
	for _, bad := range []ListParams{{Page: -1}, {Limit: 101}, {Limit: -3}, {Order: "sideways"}} {
		if _, err := NormalizeList(bad, 100); apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("%+v: got %v, want validation error", bad, err)
		}
	}
}
