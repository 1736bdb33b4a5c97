package db

import (
	"context"
	"strings"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repo) CreateInvite(ctx context.Context, email, token string, role models.Role, expiresAt time.Time, createdBy string) (*models.Invite, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	inv := &models.Invite{
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Token:     token,
		Role:      role,
		ExpiresAt: expiresAt,
		CreatedBy: createdBy,
	}
	return inv, classify(d.Create(inv).Error, nil)
}

func (r *Repo) GetInviteByToken(ctx context.Context, token string) (*models.Invite, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var inv models.Invite
	if err := d.Where("token = ?", token).First(&inv).Error; err != nil {
		return nil, classify(err, apperr.ErrInvalidInvite)
	}
	return &inv, nil
}

// HasOpenInvite reports whether email already has an unused, unexpired invite.
func (r *Repo) HasOpenInvite(ctx context.Context, email string) (bool, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var n int64
	err := d.Model(&models.Invite{}).
		Where("email = ? AND used_at IS NULL AND expires_at > ?", strings.ToLower(email), r.now()).
		Count(&n).Error
	return n > 0, classify(err, nil)
}

// RegisterWithInvite redeems the invite and creates the user atomically:
// an invite is consumed by exactly one account.
func (r *Repo) RegisterWithInvite(ctx context.Context, u *models.User, token string, actor Actor) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	err := d.Transaction(func(tx *gorm.DB) error {
		var inv models.Invite
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token = ?", token).First(&inv).Error; err != nil {
			return classify(err, apperr.ErrInvalidInvite)
		}
		now := r.now()
		if !inv.Usable(now) || !strings.EqualFold(inv.Email, u.Email) {
			return apperr.ErrInvalidInvite
		}
		if err := checkUserUnique(tx, u.Email, u.StudentNumber, ""); err != nil {
			return err
		}
		u.Role = inv.Role
		if err := tx.Create(u).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Invite{}).
			Where("id = ? AND used_at IS NULL", inv.ID).
			Updates(map[string]any{"used_at": now, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrInvalidInvite
		}
		return appendAudit(tx, actor, models.AuditRegister, models.UserTable, u.ID, nil, u)
	})
	return classifyUser(err)
}
