package db

import (
	"context"
	"strconv"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"

	"gorm.io/gorm"
)

func (r *Repo) CreateCategory(ctx context.Context, c *models.Category, actor Actor) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	err := d.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Category{}).Where("name = ?", c.Name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.ErrDuplicateCategory
		}
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		return appendAudit(tx, actor, models.AuditCreate, models.CategoryTable, strconv.FormatUint(uint64(c.ID), 10), nil, c)
	})
	if isUniqueViolation(err, "") {
		return apperr.Wrap(apperr.ErrDuplicateCategory, err)
	}
	return classify(err, nil)
}

func (r *Repo) ListCategories(ctx context.Context) ([]models.Category, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var cs []models.Category
	err := d.Order("name ASC").Find(&cs).Error
	return cs, classify(err, nil)
}

func (r *Repo) FindCategory(ctx context.Context, id uint) (*models.Category, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var c models.Category
	if err := d.First(&c, "id = ?", id).Error; err != nil {
		return nil, classify(err, apperr.ErrCategoryNotFound)
	}
	return &c, nil
}
