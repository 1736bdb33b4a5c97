package models

import (
	"time"

	"gorm.io/datatypes"
)

const AuditTable = "loan_audit_log"

type AuditAction string

const (
	AuditCreate   AuditAction = "create"
	AuditUpdate   AuditAction = "update"
	AuditDelete   AuditAction = "delete"
	AuditApprove  AuditAction = "approve"
	AuditRefuse   AuditAction = "refuse"
	AuditCancel   AuditAction = "cancel"
	AuditReturn   AuditAction = "return"
	AuditOverdue  AuditAction = "overdue"
	AuditLost     AuditAction = "lost"
	AuditRegister AuditAction = "register"
)

// AuditEntry 只追加，写入后不可修改。
type AuditEntry struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ActorID    *string        `gorm:"size:36;index" json:"actorId,omitempty"`
	Action     AuditAction    `gorm:"size:20;not null;index" json:"action"`
	EntityType string         `gorm:"size:50;not null;index:idx_audit_entity" json:"entityType"`
	EntityID   string         `gorm:"size:36;not null;index:idx_audit_entity" json:"entityId"`
	Before     datatypes.JSON `json:"before,omitempty"`
	After      datatypes.JSON `json:"after,omitempty"`
	Origin     string         `gorm:"size:64" json:"origin,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"createdAt"`
}

func (AuditEntry) TableName() string { return AuditTable }
