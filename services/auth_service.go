package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/config"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/models"
	"Gin_postgres_redis_loan_manager/session"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const passwordCost = 12

// Identity is the caller as seen by the server: always rebuilt from the store,
// never from anything the client claims about itself.
type Identity struct {
	User      *models.User
	SessionID string
}

func (id *Identity) Actor(origin string) db.Actor {
	return db.Actor{ID: id.User.ID, Origin: origin}
}

func (id *Identity) IsManager() bool { return id.User.Role.Satisfies(models.RoleManager) }

// AuthService maps bearer credentials to identities and owns login/registration.
type AuthService struct {
	Repo     *db.Repo
	Tokens   *session.TokenCodec
	Sessions *session.AppSessionStore
	Throttle *session.LoginThrottle
	Cfg      config.Config
	HashCost int
}

func NewAuthService(repo *db.Repo, tokens *session.TokenCodec, sessions *session.AppSessionStore, throttle *session.LoginThrottle, cfg config.Config) *AuthService {
	return &AuthService{Repo: repo, Tokens: tokens, Sessions: sessions, Throttle: throttle, Cfg: cfg, HashCost: passwordCost}
}

// Authenticate verifies the token, checks that the session was not revoked and
// that the user still exists and is active.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.Tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	as, err := s.Sessions.Get(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if as.UserID != claims.Subject {
		return nil, apperr.ErrInvalidCredential
	}
	u, err := s.Repo.FindUserByID(ctx, claims.Subject)
	if errors.Is(err, apperr.ErrUserNotFound) {
		_ = s.Sessions.Delete(ctx, claims.ID)
		return nil, apperr.ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}
	if u.Status != models.UserActive {
		return nil, apperr.ErrUserInactive
	}
	s.elevate(u)
	return &Identity{User: u, SessionID: claims.ID}, nil
}

// Authorize passes iff role is at least as privileged as required.
func Authorize(role, required models.Role) error {
	if !role.Satisfies(required) {
		return apperr.ErrForbidden
	}
	return nil
}

// ADMIN_EMAILS 中的账号始终视为 manager
func (s *AuthService) elevate(u *models.User) {
	if s.Cfg.IsAdminEmail(u.Email) {
		u.Role = models.RoleManager
	}
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Session is what a successful login or registration hands back.
type Session struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Login checks the password; repeated failures for the same email are throttled.
func (s *AuthService) Login(ctx context.Context, in LoginInput, origin, ua string) (*Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := check(in); err != nil {
		return nil, err
	}
	if s.Throttle != nil && s.Throttle.Blocked(ctx, in.Email) {
		return nil, apperr.ErrTooManyAttempts
	}
	u, err := s.Repo.FindUserByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, apperr.ErrUserNotFound) {
		return nil, err
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		if s.Throttle != nil {
			if ferr := s.Throttle.Fail(ctx, in.Email); ferr != nil {
				log.Printf("login throttle: %v", ferr)
			}
		}
		return nil, apperr.ErrBadLogin
	}
	if u.Status != models.UserActive {
		return nil, apperr.ErrUserInactive
	}
	if s.Throttle != nil {
		_ = s.Throttle.Reset(ctx, in.Email)
	}
	return s.Issue(ctx, u, origin, ua)
}

// Issue opens a server-side session for u and signs its bearer token.
// Passkey logins end here too.
func (s *AuthService) Issue(ctx context.Context, u *models.User, origin, ua string) (*Session, error) {
	token, jti, exp, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.Create(ctx, jti, session.AppSession{UserID: u.ID, Origin: origin, UserAgent: ua}); err != nil {
		return nil, apperr.Wrap(apperr.ErrTransient, err)
	}
	if err := s.Repo.TouchUserLogin(ctx, u.ID, origin, ua); err != nil {
		log.Printf("touch login %s: %v", u.ID, err) // 不阻塞登录
	}
	s.elevate(u)
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.Sessions.Delete(ctx, sessionID)
}

type RegisterInput struct {
	Email         string      `json:"email" validate:"required,email,max=255"`
	Password      string      `json:"password" validate:"required,max=72,password"`
	LastName      string      `json:"nom" validate:"required,min=2,max=100"`
	FirstName     string      `json:"prenom" validate:"required,min=2,max=100"`
	Role          models.Role `json:"role" validate:"required,oneof=student instructor manager"`
	StudentNumber string      `json:"numero_etudiant" validate:"required_if=Role student,omitempty,student_number"`
	Phone         string      `json:"telephone" validate:"omitempty,phone"`
	InviteToken   string      `json:"invite_token"`
}

// Register creates an account. Students and instructors may sign up freely;
// a manager account needs an invite, unless the email is in ADMIN_EMAILS.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, origin, ua string) (*Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.LastName = strings.TrimSpace(in.LastName)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.StudentNumber = strings.TrimSpace(in.StudentNumber)
	in.InviteToken = strings.TrimSpace(in.InviteToken)

	if in.InviteToken != "" {
		inv, err := s.Repo.GetInviteByToken(ctx, in.InviteToken)
		if err != nil {
			return nil, err
		}
		in.Role = inv.Role
	}
	if s.Cfg.IsAdminEmail(in.Email) {
		in.Role = models.RoleManager
	}
	if err := check(in); err != nil {
		return nil, err
	}
	if in.Role == models.RoleManager && in.InviteToken == "" && !s.Cfg.IsAdminEmail(in.Email) {
		return nil, apperr.Field("role", "manager accounts require an invitation")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost())
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: string(hash),
		LastName:     in.LastName,
		FirstName:    in.FirstName,
		Role:         in.Role,
		Status:       models.UserActive,
		Phone:        in.Phone,
	}
	if in.StudentNumber != "" {
		sn := in.StudentNumber
		u.StudentNumber = &sn
	}
	actor := db.Actor{ID: u.ID, Origin: origin}
	if in.InviteToken != "" {
		err = s.Repo.RegisterWithInvite(ctx, u, in.InviteToken, actor)
	} else {
		err = s.Repo.CreateUser(ctx, u, actor)
	}
	if err != nil {
		return nil, err
	}
	return s.Issue(ctx, u, origin, ua)
}

func (s *AuthService) cost() int {
	if s.HashCost == 0 {
		return passwordCost
	}
	return s.HashCost
}
