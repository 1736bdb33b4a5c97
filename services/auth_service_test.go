package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"
)

func TestAdminEmailIsElevated(t *testing.T) {
	e := newEnv(t)
	if e.manager.User.Role != models.RoleManager || !e.manager.IsManager() {
		t.Fatalf("admin email got role %s", e.manager.User.Role)
	}
	if e.alice.IsManager() {
		t.Fatal("student must not be a manager")
	}
}

func TestLoginLogout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.auth.Login(ctx, LoginInput{Email: " Alice@School.test ", Password: "Secret123"}, "10.0.0.2", "curl")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	id, err := e.auth.Authenticate(ctx, sess.Token)
	if err != nil || id.User.ID != e.alice.User.ID {
		t.Fatalf("authenticate: %v", err)
	}
	if err := e.auth.Logout(ctx, id.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := e.auth.Authenticate(ctx, sess.Token); apperr.KindOf(err) != apperr.KindAuthentication {
		t.Fatalf("token after logout: %v", err)
	}
	if _, err := e.auth.Authenticate(ctx, "not-a-jwt"); apperr.KindOf(err) != apperr.KindAuthentication {
		t.Fatalf("garbage token: %v", err)
	}
}

func TestLoginThrottle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	bad := LoginInput{Email: "alice@school.test", Password: "Wrong1234"}
	for i := 0; i < 5; i++ {
		if _, err := e.auth.Login(ctx, bad, "", ""); !errors.Is(err, apperr.ErrBadLogin) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	good := LoginInput{Email: "alice@school.test", Password: "Secret123"}
	if _, err := e.auth.Login(ctx, good, "", ""); !errors.Is(err, apperr.ErrTooManyAttempts) {
		t.Fatalf("sixth attempt: %v", err)
	}
	e.mr.FastForward(16 * time.Minute)
	if _, err := e.auth.Login(ctx, good, "", ""); err != nil {
		t.Fatalf("after the window: %v", err)
	}
}

func TestUnknownEmailLooksLikeBadPassword(t *testing.T) {
	e := newEnv(t)
	_, err := e.auth.Login(context.Background(), LoginInput{Email: "nobody@school.test", Password: "Secret123"}, "", "")
	if !errors.Is(err, apperr.ErrBadLogin) {
		t.Fatalf("unknown email: %v", err)
	}
}

func TestInactiveUserIsLockedOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, _ := e.auth.Login(ctx, LoginInput{Email: "bob@school.test", Password: "Secret123"}, "", "")

	if _, err := e.users.SetStatus(ctx, e.bob.User.ID, models.UserSuspended, e.manager.Actor("")); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := e.auth.Authenticate(ctx, sess.Token); apperr.KindOf(err) != apperr.KindAuthentication {
		t.Fatalf("revoked session still valid: %v", err)
	}
	if _, err := e.auth.Login(ctx, LoginInput{Email: "bob@school.test", Password: "Secret123"}, "", ""); !errors.Is(err, apperr.ErrUserInactive) {
		t.Fatalf("login while suspended: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	base := RegisterInput{
		Email: "carol@school.test", Password: "Secret123",
		LastName: "Durand", FirstName: "Carol", Role: models.RoleStudent, StudentNumber: "2100003",
	}

	cases := []struct {
		name  string
		mut   func(*RegisterInput)
		field string
	}{
		{"weak password", func(in *RegisterInput) { in.Password = "secret" }, "password"},
		{"bad email", func(in *RegisterInput) { in.Email = "carol" }, "email"},
		{"student without number", func(in *RegisterInput) { in.StudentNumber = "" }, "numero_etudiant"},
		{"bad phone", func(in *RegisterInput) { in.Phone = "12" }, "telephone"},
		{"manager without invite", func(in *RegisterInput) { in.Role = models.RoleManager; in.StudentNumber = "" }, "role"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mut(&in)
			_, err := e.auth.Register(ctx, in, "", "")
			ae, ok := apperr.As(err)
			if !ok || ae.Kind != apperr.KindValidation {
				t.Fatalf("want validation error, got %v", err)
			}
			found := false
			for _, f := range ae.Fields {
				found = found || f.Field == tc.field
			}
			if !found {
				t.Fatalf("no error on %s: %+v", tc.field, ae.Fields)
			}
		})
	}

	dup := base
	dup.Email = "alice@school.test"
	if _, err := e.auth.Register(ctx, dup, "", ""); !errors.Is(err, apperr.ErrDuplicateEmail) {
		t.Fatalf("duplicate email: %v", err)
	}
	dup = base
	dup.StudentNumber = "2100001"
	if _, err := e.auth.Register(ctx, dup, "", ""); !errors.Is(err, apperr.ErrDuplicateStudent) {
		t.Fatalf("duplicate student number: %v", err)
	}

	instr := base
	instr.Role, instr.StudentNumber = models.RoleInstructor, ""
	if _, err := e.auth.Register(ctx, instr, "", ""); err != nil {
		t.Fatalf("instructor sign-up: %v", err)
	}
}

func TestRegisterWithInvite(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	inv, token, err := e.users.Invite(ctx, InviteInput{Email: "Dora@School.test"}, e.manager.User.ID)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.Role != models.RoleManager {
		t.Fatalf("default invite role = %s", inv.Role)
	}

	in := RegisterInput{
		Email: "dora@school.test", Password: "Secret123", LastName: "Martin", FirstName: "Dora",
		Role: models.RoleStudent, InviteToken: token,
	}
	sess, err := e.auth.Register(ctx, in, "", "")
	if err != nil {
		t.Fatalf("register with invite: %v", err)
	}
	if sess.User.Role != models.RoleManager {
		t.Fatalf("invite role not applied: %s", sess.User.Role)
	}

	// 邀请只能用一次
	in.Email = "eve@school.test"
	if _, err := e.auth.Register(ctx, in, "", ""); !errors.Is(err, apperr.ErrInvalidInvite) {
		t.Fatalf("reused invite: %v", err)
	}
}

func TestExpiredInvite(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, token, err := e.users.Invite(ctx, InviteInput{Email: "late@school.test", Role: models.RoleInstructor, Expires: 1}, e.manager.User.ID)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	e.advance(25 * time.Hour)
	_, err = e.auth.Register(ctx, RegisterInput{
		Email: "late@school.test", Password: "Secret123", LastName: "Petit", FirstName: "Lea",
		Role: models.RoleInstructor, InviteToken: token,
	}, "", "")
	if !errors.Is(err, apperr.ErrInvalidInvite) {
		t.Fatalf("expired invite: %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	if err := Authorize(models.RoleManager, models.RoleInstructor); err != nil {
		t.Fatalf("manager as instructor: %v", err)
	}
	if err := Authorize(models.RoleStudent, models.RoleManager); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("student as manager: %v", err)
	}
}
