package models

import "time"

// Invite lets a manager hand out a one-time registration token for a privileged role.
type Invite struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Email     string     `gorm:"index;size:255;not null" json:"email"`
	Token     string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	Role      Role       `gorm:"size:20;not null;default:'manager'" json:"role"`
	ExpiresAt time.Time  `gorm:"index;not null" json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedBy string     `gorm:"size:255" json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (Invite) TableName() string { return "loan_invites" }

// Usable reports whether the invite can still be redeemed at now.
func (i Invite) Usable(now time.Time) bool {
	return i.UsedAt == nil && now.Before(i.ExpiresAt)
}
