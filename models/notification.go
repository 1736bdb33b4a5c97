package models

import (
	"time"

	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type NotificationCategory string

const (
	CategoryLoan     NotificationCategory = "loan"
	CategoryReturn   NotificationCategory = "return"
	CategoryRequest  NotificationCategory = "request"
	CategorySystem   NotificationCategory = "system"
	CategoryReminder NotificationCategory = "reminder"
)

// Notification represents an in-app notification for a user.
type Notification struct {
	ID        uint                 `gorm:"primaryKey" json:"id"`
	UserID    string               `gorm:"size:36;not null;index" json:"user_id"`
	Title     string               `gorm:"size:255;not null" json:"titre"`
	Message   string               `gorm:"type:text" json:"message"`
	Severity  Severity             `gorm:"size:20;not null;default:'info'" json:"type"`
	Category  NotificationCategory `gorm:"size:20;not null;default:'system'" json:"categorie"`
	ActionURL string               `gorm:"size:255" json:"action_url,omitempty"`
	Metadata  datatypes.JSON       `json:"metadata,omitempty"`
	IsRead    bool                 `gorm:"not null;default:false;index" json:"lu"`
	ReadAt    *time.Time           `json:"read_at,omitempty"`
	ExpiresAt *time.Time           `gorm:"index" json:"expire_at,omitempty"`
	CreatedAt time.Time            `gorm:"index" json:"createdAt"`
}

func (Notification) TableName() string { return "loan_notifications" }
