package db

import (
	"context"
	"fmt"
	"log"
	"strings"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemPatch carries the fields of an update; nil means unchanged.
// An empty SerialNumber clears the serial.
type ItemPatch struct {
	Name              *string
	Description       *string
	Brand             *string
	Model             *string
	CategoryID        *uint
	TotalQuantity     *int
	AvailableQuantity *int
	UnitPrice         *int64
	Condition         *models.Condition
	SerialNumber      *string
	Location          *string
}

func normSerial(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func classifyItem(err error) error {
	if isUniqueViolation(err, "serial") {
		return apperr.Wrap(apperr.ErrDuplicateSerial, err)
	}
	return classify(err, apperr.ErrItemNotFound)
}

func checkCategory(tx *gorm.DB, id uint) error {
	var n int64
	if err := tx.Model(&models.Category{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrCategoryNotFound
	}
	return nil
}

func checkSerial(tx *gorm.DB, serial *string, exceptID string) error {
	if serial == nil {
		return nil
	}
	var n int64
	q := tx.Model(&models.EquipmentItem{}).Where("serial_number = ?", *serial)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.ErrDuplicateSerial
	}
	return nil
}

// CreateItem inserts a new item with every unit available.
func (r *Repo) CreateItem(ctx context.Context, it *models.EquipmentItem, actor Actor) error {
	if it.TotalQuantity < 1 {
		return apperr.Field("quantite_totale", "total quantity must be at least 1")
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.Condition == "" {
		it.Condition = models.ConditionGood
	}
	it.SerialNumber = normSerial(it.SerialNumber)
	it.AvailableQuantity = it.TotalQuantity

	d, cancel := r.conn(ctx)
	defer cancel()
	err := d.Transaction(func(tx *gorm.DB) error {
		if err := checkCategory(tx, it.CategoryID); err != nil {
			return err
		}
		if err := checkSerial(tx, it.SerialNumber, ""); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(it).Error; err != nil {
			return err
		}
		return appendAudit(tx, actor, models.AuditCreate, models.ItemTable, it.ID, nil, it)
	})
	return classifyItem(err)
}

func (r *Repo) FindItemByID(ctx context.Context, id string) (*models.EquipmentItem, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var it models.EquipmentItem
	if err := d.Preload("Category").First(&it, "id = ?", id).Error; err != nil {
		return nil, classify(err, apperr.ErrItemNotFound)
	}
	return &it, nil
}

// lockItem reads the item row under FOR UPDATE; sqlite ignores the clause and
// relies on its single writer instead.
func lockItem(tx *gorm.DB, id string) (*models.EquipmentItem, error) {
	var it models.EquipmentItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&it, "id = ?", id).Error; err != nil {
		return nil, classify(err, apperr.ErrItemNotFound)
	}
	return &it, nil
}

func outstanding(tx *gorm.DB, itemID string) (int, error) {
	var sum int
	err := tx.Model(&models.Loan{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("item_id = ? AND status IN ?", itemID, models.OpenLoanStatuses).
		Scan(&sum).Error
	return sum, err
}

// UpdateItem applies p under the item lock. Changing only the total shifts
// available by the same delta; either way the result must keep
// 0 <= available <= total and cover the units currently on loan.
func (r *Repo) UpdateItem(ctx context.Context, id string, p ItemPatch, actor Actor) (*models.EquipmentItem, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var out *models.EquipmentItem
	err := d.Transaction(func(tx *gorm.DB) error {
		it, err := lockItem(tx, id)
		if err != nil {
			return err
		}
		before := *it

		if p.Name != nil {
			it.Name = *p.Name
		}
		if p.Description != nil {
			it.Description = *p.Description
		}
		if p.Brand != nil {
			it.Brand = *p.Brand
		}
		if p.Model != nil {
			it.Model = *p.Model
		}
		if p.Location != nil {
			it.Location = *p.Location
		}
		if p.UnitPrice != nil {
			it.UnitPrice = *p.UnitPrice
		}
		if p.Condition != nil {
			it.Condition = *p.Condition
		}
		if p.CategoryID != nil && *p.CategoryID != it.CategoryID {
			if err := checkCategory(tx, *p.CategoryID); err != nil {
				return err
			}
			it.CategoryID = *p.CategoryID
		}
		if p.SerialNumber != nil {
			s := normSerial(p.SerialNumber)
			if err := checkSerial(tx, s, it.ID); err != nil {
				return err
			}
			it.SerialNumber = s
		}

		if p.TotalQuantity != nil || p.AvailableQuantity != nil {
			if p.TotalQuantity != nil {
				if *p.TotalQuantity < 1 {
					return apperr.Field("quantite_totale", "total quantity must be at least 1")
				}
				if p.AvailableQuantity == nil {
					it.AvailableQuantity += *p.TotalQuantity - it.TotalQuantity
				}
				it.TotalQuantity = *p.TotalQuantity
			}
			if p.AvailableQuantity != nil {
				it.AvailableQuantity = *p.AvailableQuantity
			}
			if !it.Consistent() {
				return apperr.ErrInvalidQuantity
			}
			onLoan, err := outstanding(tx, it.ID)
			if err != nil {
				return err
			}
			if it.CheckedOut() < onLoan {
				return apperr.Wrap(apperr.ErrInvalidQuantity, fmt.Errorf("%d units on loan", onLoan))
			}
		}

		if err := tx.Model(&models.EquipmentItem{}).Where("id = ?", it.ID).Updates(map[string]any{
			"name":               it.Name,
			"description":        it.Description,
			"brand":              it.Brand,
			"model":              it.Model,
			"category_id":        it.CategoryID,
			"total_quantity":     it.TotalQuantity,
			"available_quantity": it.AvailableQuantity,
			"unit_price":         it.UnitPrice,
			"item_condition":     it.Condition,
			"serial_number":      it.SerialNumber,
			"location":           it.Location,
			"updated_at":         r.now(),
		}).Error; err != nil {
			return err
		}
		if err := appendAudit(tx, actor, models.AuditUpdate, models.ItemTable, it.ID, before, it); err != nil {
			return err
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, classifyItem(err)
	}
	return out, nil
}

// DeleteItem removes an item that has no open loan. Pending requests for it are cancelled.
func (r *Repo) DeleteItem(ctx context.Context, id string, actor Actor) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	err := d.Transaction(func(tx *gorm.DB) error {
		it, err := lockItem(tx, id)
		if err != nil {
			return err
		}
		var open int64
		if err := tx.Model(&models.Loan{}).
			Where("item_id = ? AND status IN ?", id, models.OpenLoanStatuses).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return apperr.ErrItemInUse
		}
		if err := tx.Model(&models.LoanRequest{}).
			Where("item_id = ? AND status = ?", id, models.RequestPending).
			Updates(map[string]any{
				"status":       models.RequestCancelled,
				"manager_note": "equipment removed",
				"updated_at":   r.now(),
			}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.EquipmentItem{}, "id = ?", id).Error; err != nil {
			return err
		}
		return appendAudit(tx, actor, models.AuditDelete, models.ItemTable, id, it, nil)
	})
	return classifyItem(err)
}

// SetItemImage records the blob key of the item photo.
func (r *Repo) SetItemImage(ctx context.Context, id, key string) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	res := d.Model(&models.EquipmentItem{}).Where("id = ?", id).
		Updates(map[string]any{"image_key": key, "updated_at": r.now()})
	if res.Error != nil {
		return classify(res.Error, nil)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrItemNotFound
	}
	return nil
}

// Reserve takes qty units out of the pool in its own transaction.
func (r *Repo) Reserve(ctx context.Context, itemID string, qty int) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	return classify(d.Transaction(func(tx *gorm.DB) error { return reserve(tx, itemID, qty) }), apperr.ErrItemNotFound)
}

// Release returns qty units to the pool in its own transaction.
func (r *Repo) Release(ctx context.Context, itemID string, qty int) error {
	d, cancel := r.conn(ctx)
	defer cancel()
	return classify(d.Transaction(func(tx *gorm.DB) error { return release(tx, itemID, qty) }), apperr.ErrItemNotFound)
}

// reserve: 检查与扣减在同一条件 UPDATE 中完成，两个并发审批不会同时拿到最后一件
func reserve(tx *gorm.DB, itemID string, qty int) error {
	if qty < 1 {
		return apperr.ErrInvalidQuantity
	}
	it, err := lockItem(tx, itemID)
	if err != nil {
		return err
	}
	// 停用的设备在锁内重新检查，申请之后才停用的也不能再借出
	if !it.Borrowable() {
		return apperr.ErrItemOutOfService
	}
	if qty > it.AvailableQuantity {
		return apperr.ErrInsufficientStock
	}
	res := tx.Model(&models.EquipmentItem{}).
		Where("id = ? AND available_quantity >= ?", itemID, qty).
		Update("available_quantity", gorm.Expr("available_quantity - ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrInsufficientStock
	}
	return nil
}

// release is clamped at total; hitting the clamp means the books were already wrong.
func release(tx *gorm.DB, itemID string, qty int) error {
	if qty < 1 {
		return apperr.ErrInvalidQuantity
	}
	it, err := lockItem(tx, itemID)
	if err != nil {
		return err
	}
	if it.AvailableQuantity+qty > it.TotalQuantity {
		log.Printf("inventory: release of %d on item %s clamped (available=%d total=%d)",
			qty, itemID, it.AvailableQuantity, it.TotalQuantity)
	}
	return tx.Model(&models.EquipmentItem{}).
		Where("id = ?", itemID).
		Update("available_quantity", gorm.Expr(
			"CASE WHEN available_quantity + ? > total_quantity THEN total_quantity ELSE available_quantity + ? END", qty, qty)).Error
}

// writeOff removes lost units from the total; available is untouched.
func writeOff(tx *gorm.DB, itemID string, qty int) error {
	if _, err := lockItem(tx, itemID); err != nil {
		return err
	}
	res := tx.Model(&models.EquipmentItem{}).
		Where("id = ? AND total_quantity - ? >= available_quantity", itemID, qty).
		Update("total_quantity", gorm.Expr("total_quantity - ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrInvariant
	}
	return nil
}

// EquipmentFilter narrows the equipment listing.
type EquipmentFilter struct {
	ListParams
	CategoryID    uint             `form:"category"`
	Condition     models.Condition `form:"etat"`
	AvailableOnly bool             `form:"available"`
}

var equipmentSorts = map[string]string{
	"nom":                 "name",
	"name":                "name",
	"created_at":          "created_at",
	"createdAt":           "created_at",
	"quantite_disponible": "available_quantity",
	"available":           "available_quantity",
	"prix_unitaire":       "unit_price",
	"price":               "unit_price",
}

func (r *Repo) ListEquipment(ctx context.Context, f EquipmentFilter) (Page[models.EquipmentItem], error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	q := d.Model(&models.EquipmentItem{})
	q = searchLike(q, f.Q, "name", "description", "brand", "model")
	if f.CategoryID != 0 {
		q = q.Where("category_id = ?", f.CategoryID)
	}
	if f.Condition != "" {
		q = q.Where("item_condition = ?", f.Condition)
	}
	if f.AvailableOnly {
		q = q.Where("available_quantity > 0 AND item_condition <> ?", models.ConditionOutOfService)
	}
	return paginate[models.EquipmentItem](q, f.ListParams, equipmentSorts, "created_at", "Category")
}

// AllEquipment returns every item ordered by name, for reports.
func (r *Repo) AllEquipment(ctx context.Context) ([]models.EquipmentItem, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var items []models.EquipmentItem
	err := d.Preload("Category").Order("name ASC").Find(&items).Error
	return items, classify(err, nil)
}
