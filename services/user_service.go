package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"strings"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/models"
	"Gin_postgres_redis_loan_manager/session"
)

// UserService is the manager-side administration of accounts, invites and the audit trail.
type UserService struct {
	Repo     *db.Repo
	Sessions *session.AppSessionStore
	MaxLimit int
	Now      func() time.Time
}

func NewUserService(repo *db.Repo, sessions *session.AppSessionStore, maxLimit int) *UserService {
	return &UserService{Repo: repo, Sessions: sessions, MaxLimit: maxLimit, Now: time.Now}
}

func (s *UserService) List(ctx context.Context, f db.UserFilter) (db.Page[models.User], error) {
	p, err := db.NormalizeList(f.ListParams, s.MaxLimit)
	if err != nil {
		return db.Page[models.User]{}, err
	}
	f.ListParams = p
	return s.Repo.ListUsers(ctx, f)
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.Repo.FindUserByID(ctx, id)
}

// revoke logs out every session of the user; the store change already committed.
func (s *UserService) revoke(ctx context.Context, userID string) {
	if s.Sessions == nil {
		return
	}
	if err := s.Sessions.RevokeAllForUser(ctx, userID); err != nil {
		log.Printf("revoke sessions of %s: %v", userID, err)
	}
}

// SetStatus changes the account status; leaving active logs the user out everywhere.
func (s *UserService) SetStatus(ctx context.Context, id string, status models.UserStatus, actor db.Actor) (*models.User, error) {
	if !status.Valid() {
		return nil, apperr.Field("status", "must be one of: active inactive suspended")
	}
	if id == actor.ID && status != models.UserActive {
		return nil, apperr.Field("status", "cannot deactivate yourself")
	}
	u, err := s.Repo.SetUserStatus(ctx, id, status, actor)
	if err != nil {
		return nil, err
	}
	if status != models.UserActive {
		s.revoke(ctx, id)
	}
	return u, nil
}

func (s *UserService) SetRole(ctx context.Context, id string, role models.Role, actor db.Actor) (*models.User, error) {
	if !role.Valid() {
		return nil, apperr.Field("role", "must be one of: student instructor manager")
	}
	return s.Repo.SetUserRole(ctx, id, role, actor)
}

// Delete removes an account without open loans. Managers cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, id string, actor db.Actor) error {
	if id == actor.ID {
		return apperr.Field("id", "cannot delete yourself")
	}
	if err := s.Repo.DeleteUser(ctx, id, actor); err != nil {
		return err
	}
	s.revoke(ctx, id)
	return nil
}

type ProfileInput struct {
	LastName  *string `json:"nom" validate:"omitempty,min=2,max=100"`
	FirstName *string `json:"prenom" validate:"omitempty,min=2,max=100"`
	Phone     *string `json:"telephone" validate:"omitempty,phone"`
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

// UpdateProfile is the self-service edit; role and status are not reachable from here.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileInput, actor db.Actor) (*models.User, error) {
	in.LastName, in.FirstName, in.Phone = trimPtr(in.LastName), trimPtr(in.FirstName), trimPtr(in.Phone)
	if err := check(in); err != nil {
		return nil, err
	}
	return s.Repo.UpdateProfile(ctx, userID, db.ProfilePatch{
		LastName:  in.LastName,
		FirstName: in.FirstName,
		Phone:     in.Phone,
	}, actor)
}

type InviteInput struct {
	Email   string      `json:"email" validate:"required,email"`
	Role    models.Role `json:"role" validate:"omitempty,oneof=student instructor manager"`
	Expires int         `json:"expiresDays" validate:"gte=0,lte=30"`
}

// NewInviteToken returns 16 random bytes, hex encoded.
func NewInviteToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Invite issues a one-time registration token; the role defaults to manager.
func (s *UserService) Invite(ctx context.Context, in InviteInput, createdBy string) (*models.Invite, string, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := check(in); err != nil {
		return nil, "", err
	}
	if in.Role == "" {
		in.Role = models.RoleManager
	}
	if in.Expires == 0 {
		in.Expires = 1 // 默认 1 天
	}
	token, err := NewInviteToken()
	if err != nil {
		return nil, "", err
	}
	inv, err := s.Repo.CreateInvite(ctx, in.Email, token, in.Role, s.Now().AddDate(0, 0, in.Expires), createdBy)
	if err != nil {
		return nil, "", err
	}
	return inv, token, nil
}

func (s *UserService) Audit(ctx context.Context, f db.AuditFilter) (db.Page[models.AuditEntry], error) {
	p, err := db.NormalizeList(f.ListParams, s.MaxLimit)
	if err != nil {
		return db.Page[models.AuditEntry]{}, err
	}
	f.ListParams = p
	return s.Repo.ListAudit(ctx, f)
}
