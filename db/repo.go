package db

import (
	"context"
	"strings"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"

	"gorm.io/gorm"
)

// Repo is the storage handle shared by the services. All mutating calls that
// touch quantity counters run in one transaction with the item row locked.
type Repo struct {
	DB      *gorm.DB
	Timeout time.Duration
	Now     func() time.Time
}

func NewRepo(db *gorm.DB, timeout time.Duration) *Repo {
	return &Repo{DB: db, Timeout: timeout, Now: time.Now}
}

// Actor identifies who performs a mutation and from where; it feeds the audit trail.
type Actor struct {
	ID     string
	Origin string
}

// conn bounds every storage call by the statement timeout.
func (r *Repo) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if r.Timeout <= 0 {
		return r.DB.WithContext(ctx), func() {}
	}
	c, cancel := context.WithTimeout(ctx, r.Timeout)
	return r.DB.WithContext(c), cancel
}

func (r *Repo) now() time.Time { return r.Now().UTC() }

// Users

func (r *Repo) CreateUser(ctx context.Context, u *models.User, actor Actor) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	err := d.Transaction(func(tx *gorm.DB) error {
		if err := checkUserUnique(tx, u.Email, u.StudentNumber, ""); err != nil {
			return err
		}
		if err := tx.Create(u).Error; err != nil {
			return err
		}
		return appendAudit(tx, actor, models.AuditRegister, models.UserTable, u.ID, nil, u)
	})
	return classifyUser(err)
}

func checkUserUnique(tx *gorm.DB, email string, studentNumber *string, exceptID string) error {
	var n int64
	q := tx.Model(&models.User{}).Where("LOWER(email) = ?", strings.ToLower(email))
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.ErrDuplicateEmail
	}
	if studentNumber == nil {
		return nil
	}
	q = tx.Model(&models.User{}).Where("student_number = ?", *studentNumber)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.ErrDuplicateStudent
	}
	return nil
}

// 并发注册时唯一索引兜底
func classifyUser(err error) error {
	switch {
	case isUniqueViolation(err, "student_number"):
		return apperr.Wrap(apperr.ErrDuplicateStudent, err)
	case isUniqueViolation(err, ""):
		return apperr.Wrap(apperr.ErrDuplicateEmail, err)
	}
	return classify(err, apperr.ErrUserNotFound)
}

func (r *Repo) TouchUserLogin(ctx context.Context, userID, ip, ua string) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	now := r.now()
	if len(ua) > 255 {
		ua = ua[:255]
	}
	return d.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_login_at": now,
			"last_seen_at":  now,
			"login_count":   gorm.Expr("COALESCE(login_count, 0) + 1"),
			"last_login_ip": ip,
			"last_login_ua": ua,
		}).Error
}

func (r *Repo) TouchUserSeen(ctx context.Context, userID string) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	return d.Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_seen_at", r.now()).Error
}

// 按 ID 查
func (r *Repo) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var u models.User
	if err := d.First(&u, "id = ?", id).Error; err != nil {
		return nil, classify(err, apperr.ErrUserNotFound)
	}
	return &u, nil
}

func (r *Repo) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var u models.User
	if err := d.Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error; err != nil {
		return nil, classify(err, apperr.ErrUserNotFound)
	}
	return &u, nil
}

// ActiveManagerIDs lists the recipients of request notifications.
func (r *Repo) ActiveManagerIDs(ctx context.Context) ([]string, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var ids []string
	err := d.Model(&models.User{}).
		Where("role = ? AND status = ?", models.RoleManager, models.UserActive).
		Order("created_at").
		Pluck("id", &ids).Error
	return ids, classify(err, nil)
}

// ProfilePatch holds the fields a user may change about themselves.
type ProfilePatch struct {
	LastName  *string
	FirstName *string
	Phone     *string
}

func (r *Repo) UpdateProfile(ctx context.Context, userID string, p ProfilePatch, actor Actor) (*models.User, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var out models.User
	err := d.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, "id = ?", userID).Error; err != nil {
			return err
		}
		before := out
		changes := map[string]any{}
		if p.LastName != nil {
			out.LastName = *p.LastName
			changes["last_name"] = out.LastName
		}
		if p.FirstName != nil {
			out.FirstName = *p.FirstName
			changes["first_name"] = out.FirstName
		}
		if p.Phone != nil {
			out.Phone = *p.Phone
			changes["phone"] = out.Phone
		}
		if len(changes) == 0 {
			return nil
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

// Credentials

func (r *Repo) TouchCredentialUsed(ctx context.Context, credID []byte) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	return d.Model(&models.Credential{}).
		Where("credential_id = ?", credID).
		Update("last_used_at", r.now()).Error
}

func (r *Repo) CountCredentials(ctx context.Context, userID string) (int64, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var n int64
	err := d.Model(&models.Credential{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n, err
}

func (r *Repo) LoadUserCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var cs []models.Credential
	if err := d.Where("user_id=?", userID).Find(&cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}

func (r *Repo) AddCredential(ctx context.Context, c *models.Credential) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	return d.Create(c).Error
}

func (r *Repo) UpdateCredentialCounter(ctx context.Context, credID []byte, newCount uint32, cloneWarn bool) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	return d.Model(&models.Credential{}).
		Where("credential_id = ?", credID).
		Updates(map[string]any{"sign_count": newCount, "clone_warning": cloneWarn}).Error
}

func (r *Repo) FindUserByCredentialID(ctx context.Context, credID []byte) (*models.User, *models.Credential, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var c models.Credential
	if err := d.Where("credential_id=?", credID).First(&c).Error; err != nil {
		return nil, nil, classify(err, apperr.ErrInvalidCredential)
	}
	var u models.User
	if err := d.Where("id=?", c.UserID).First(&u).Error; err != nil {
		return nil, nil, classify(err, apperr.ErrInvalidCredential)
	}
	return &u, &c, nil
}
