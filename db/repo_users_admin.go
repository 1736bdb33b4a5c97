// db/repo_users_admin.go
package db

import (
	"context"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// countOtherActiveManagers guards against locking everyone out of administration.
func countOtherActiveManagers(tx *gorm.DB, exceptID string) (int64, error) {
	var n int64
	err := tx.Model(&models.User{}).
		Where("role = ? AND status = ? AND id <> ?", models.RoleManager, models.UserActive, exceptID).
		Count(&n).Error
	return n, err
}

func (r *Repo) CountManagers(ctx context.Context) (int64, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var n int64
	err := d.Model(&models.User{}).
		Where("role = ? AND status = ?", models.RoleManager, models.UserActive).
		Count(&n).Error
	return n, classify(err, nil)
}

func (r *Repo) SetUserStatus(ctx context.Context, userID string, status models.UserStatus, actor Actor) (*models.User, error) {
	return r.mutateUser(ctx, userID, actor, func(tx *gorm.DB, u *models.User) (map[string]any, error) {
		if status != models.UserActive && u.Role == models.RoleManager && u.Status == models.UserActive {
			if err := requireOtherManager(tx, u.ID); err != nil {
				return nil, err
			}
		}
		u.Status = status
		return map[string]any{"status": status}, nil
	})
}

func (r *Repo) SetUserRole(ctx context.Context, userID string, role models.Role, actor Actor) (*models.User, error) {
	return r.mutateUser(ctx, userID, actor, func(tx *gorm.DB, u *models.User) (map[string]any, error) {
		if u.Role == models.RoleManager && role != models.RoleManager && u.Status == models.UserActive {
			if err := requireOtherManager(tx, u.ID); err != nil {
				return nil, err
			}
		}
		u.Role = role
		return map[string]any{"role": role}, nil
	})
}

func requireOtherManager(tx *gorm.DB, userID string) error {
	n, err := countOtherActiveManagers(tx, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrLastManager
	}
	return nil
}

func (r *Repo) mutateUser(ctx context.Context, userID string, actor Actor, apply func(*gorm.DB, *models.User) (map[string]any, error)) (*models.User, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var out models.User
	err := d.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&out, "id = ?", userID).Error; err != nil {
			return err
		}
		before := out
		changes, err := apply(tx, &out)
		if err != nil {
			return err
		}
		changes["updated_at"] = r.now()
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(changes).Error; err != nil {
			return err
		}
		return appendAudit(tx, actor, models.AuditUpdate, models.UserTable, userID, before, out)
	})
	if err != nil {
		return nil, classify(err, apperr.ErrUserNotFound)
	}
	return &out, nil
}

// DeleteUser removes an account without open loans. Loan history keeps the id.
func (r *Repo) DeleteUser(ctx context.Context, userID string, actor Actor) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	err := d.Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, "id = ?", userID).Error; err != nil {
			return err
		}
		var open int64
		if err := tx.Model(&models.Loan{}).
			Where("borrower_id = ? AND status IN ?", userID, models.OpenLoanStatuses).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return apperr.ErrUserHasLoans
		}
		if u.Role == models.RoleManager && u.Status == models.UserActive {
			if err := requireOtherManager(tx, u.ID); err != nil {
				return err
			}
		}
		if err := tx.Model(&models.LoanRequest{}).
			Where("requester_id = ? AND status = ?", userID, models.RequestPending).
			Updates(map[string]any{"status": models.RequestCancelled, "updated_at": r.now()}).Error; err != nil {
			return err
		}
		// 凭据没有外键级联，显式删除
		if err := tx.Where("user_id = ?", userID).Delete(&models.Credential{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.User{}, "id = ?", userID).Error; err != nil {
			return err
		}
		return appendAudit(tx, actor, models.AuditDelete, models.UserTable, userID, u, nil)
	})
	return classify(err, apperr.ErrUserNotFound)
}

type UserFilter struct {
	ListParams
	Role   models.Role       `form:"role"`
	Status models.UserStatus `form:"status"`
}

var userSorts = map[string]string{
	"created_at": "created_at",
	"createdAt":  "created_at",
	"email":      "email",
	"nom":        "last_name",
	"last_name":  "last_name",
	"last_login": "last_login_at",
}

// ListUsers matches q against email and names.
func (r *Repo) ListUsers(ctx context.Context, f UserFilter) (Page[models.User], error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	q := d.Model(&models.User{})
	q = searchLike(q, f.Q, "email", "first_name", "last_name")
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return paginate[models.User](q, f.ListParams, userSorts, "created_at")
}
