package db

import (
	"context"
	"encoding/json"
	"fmt"

	"Gin_postgres_redis_loan_manager/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// appendAudit must be called with the transaction of the mutation it describes.
func appendAudit(tx *gorm.DB, actor Actor, action models.AuditAction, entityType, entityID string, before, after any) error {
	e := &models.AuditEntry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Origin:     actor.Origin,
	}
	if actor.ID != "" {
		id := actor.ID
		e.ActorID = &id
	}
	var err error
	if e.Before, err = snapshot(before); err != nil {
		return err
	}
	if e.After, err = snapshot(after); err != nil {
		return err
	}
	if err := tx.Create(e).Error; err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func snapshot(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit snapshot: %w", err)
	}
	return datatypes.JSON(b), nil
}

type AuditFilter struct {
	ListParams
	EntityType string             `form:"entity"`
	EntityID   string             `form:"entity_id"`
	ActorID    string             `form:"actor"`
	Action     models.AuditAction `form:"action"`
}

var auditSorts = map[string]string{
	"created_at": "created_at",
	"createdAt":  "created_at",
	"action":     "action",
}

func (r *Repo) ListAudit(ctx context.Context, f AuditFilter) (Page[models.AuditEntry], error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	q := d.Model(&models.AuditEntry{})
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	return paginate[models.AuditEntry](q, f.ListParams, auditSorts, "created_at")
}
