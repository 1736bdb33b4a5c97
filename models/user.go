package models

import (
	"time"
)

const UserTable = "loan_users"

// Role 是封闭枚举；权限比较只看 Level。
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleManager    Role = "manager"
)

// Level gives the strict total order student(1) < instructor(2) < manager(3); unknown roles are 0.
func (r Role) Level() int {
	switch r {
	case RoleStudent:
		return 1
	case RoleInstructor:
		return 2
	case RoleManager:
		return 3
	default:
		return 0
	}
}

func (r Role) Valid() bool { return r.Level() > 0 }

// Satisfies reports whether r is at least as privileged as required.
func (r Role) Satisfies(required Role) bool {
	return r.Valid() && required.Valid() && r.Level() >= required.Level()
}

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
)

func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserInactive || s == UserSuspended
}

type User struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Email         string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash  string     `gorm:"size:255;not null" json:"-"`
	LastName      string     `gorm:"size:100;not null" json:"nom"`
	FirstName     string     `gorm:"size:100;not null" json:"prenom"`
	Role          Role       `gorm:"size:20;not null;index" json:"role"`
	Status        UserStatus `gorm:"size:20;not null;default:'active'" json:"status"`
	StudentNumber *string    `gorm:"uniqueIndex;size:20" json:"numero_etudiant,omitempty"`
	Phone         string     `gorm:"size:20" json:"telephone,omitempty"`

	LastLoginAt *time.Time `gorm:"index" json:"lastLoginAt,omitempty"`
	LastSeenAt  *time.Time `gorm:"index" json:"lastSeenAt,omitempty"`
	LoginCount  int64      `gorm:"not null;default:0" json:"loginCount"`
	LastLoginIP string     `gorm:"size:45" json:"-"`
	LastLoginUA string     `gorm:"size:255" json:"-"`

	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Credentials []Credential `json:"-"`
}

func (User) TableName() string { return UserTable }

func (u User) DisplayName() string { return u.FirstName + " " + u.LastName }

// Credential 为每个注册的 Passkey 存档
type Credential struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          string    `gorm:"size:36;index" json:"userId"`
	CredentialID    []byte    `gorm:"uniqueIndex;size:255" json:"credentialId"`
	PublicKey       []byte    `json:"publicKey"`
	AttestationType string    `gorm:"size:64" json:"attestationType"`
	AAGUID          []byte    `json:"aaguid"`
	SignCount       uint32    `json:"signCount"`
	CloneWarning    bool      `json:"cloneWarning"`
	BackupEligible  bool      `json:"backupEligible"`
	BackupState     bool      `json:"backupState"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	LastUsedAt *time.Time `gorm:"index" json:"lastUsedAt,omitempty"`
}

func (Credential) TableName() string { return "loan_credentials" }
