package db

import (
	"context"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"

	"gorm.io/gorm"
)

const notificationBatch = 100

// CreateNotifications inserts the rows with parameterized batch inserts.
func (r *Repo) CreateNotifications(ctx context.Context, ns []models.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	d, cancel := r.conn(ctx)
	defer cancel()
	return classify(d.CreateInBatches(ns, notificationBatch).Error, nil)
}

type NotificationFilter struct {
	ListParams
	UserID     string                      `form:"-"`
	UnreadOnly bool                        `form:"unread"`
	Category   models.NotificationCategory `form:"category"`
}

var notificationSorts = map[string]string{
	"created_at": "created_at",
	"createdAt":  "created_at",
}

// NotificationPage adds the unread counter to a page of notifications.
type NotificationPage struct {
	Page[models.Notification]
	Unread int64 `json:"unread"`
}

func (r *Repo) ListNotifications(ctx context.Context, f NotificationFilter) (NotificationPage, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	now := r.now()
	visible := d.Model(&models.Notification{}).
		Where("user_id = ?", f.UserID).
		Where("(expires_at IS NULL OR expires_at > ?)", now)

	var unread int64
	if err := visible.Session(&gorm.Session{}).Where("is_read = ?", false).Count(&unread).Error; err != nil {
		return NotificationPage{}, classify(err, nil)
	}

	q := visible.Session(&gorm.Session{})
	if f.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	q = searchLike(q, f.Q, "title", "message")
	page, err := paginate[models.Notification](q, f.ListParams, notificationSorts, "created_at")
	if err != nil {
		return NotificationPage{}, err
	}
	return NotificationPage{Page: page, Unread: unread}, nil
}

// MarkNotificationRead flips the read flag of one of userID's notifications.
// A notification owned by someone else is reported as not found.
func (r *Repo) MarkNotificationRead(ctx context.Context, id uint, userID string) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	now := r.now()
	var n models.Notification
	if err := d.Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		return classify(err, apperr.ErrNotificationGone)
	}
	if n.IsRead {
		return nil
	}
	return classify(d.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"is_read": true, "read_at": now}).Error, nil)
}

func (r *Repo) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	res := d.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "read_at": r.now()})
	return res.RowsAffected, classify(res.Error, nil)
}

// PurgeNotifications deletes rows that are read and older than retention, or expired.
func (r *Repo) PurgeNotifications(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	now = now.UTC()
	res := d.Where("(is_read = ? AND created_at < ?) OR (expires_at IS NOT NULL AND expires_at <= ?)",
		true, now.Add(-retention), now).
		Delete(&models.Notification{})
	return res.RowsAffected, classify(res.Error, nil)
}
