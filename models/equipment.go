// models/equipment.go
package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ItemTable     = "loan_equipment"
	CategoryTable = "loan_categories"
)

type Condition string

const (
	ConditionExcellent    Condition = "excellent"
	ConditionGood         Condition = "good"
	ConditionFair         Condition = "fair"
	ConditionPoor         Condition = "poor"
	ConditionOutOfService Condition = "out_of_service"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor, ConditionOutOfService:
		return true
	}
	return false
}

type Category struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:100;not null" json:"nom"`
	Description string    `gorm:"size:500" json:"description,omitempty"`
	Color       string    `gorm:"size:7" json:"couleur,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Category) TableName() string { return CategoryTable }

// EquipmentItem 独占数量计数器；只能经由借还状态机修改。
// 0 <= available_quantity <= total_quantity 也由数据库 CHECK 约束兜底。
type EquipmentItem struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	Name              string    `gorm:"size:200;not null;index" json:"nom"`
	Description       string    `gorm:"size:1000" json:"description"`
	Brand             string    `gorm:"size:100" json:"marque,omitempty"`
	Model             string    `gorm:"size:100" json:"modele,omitempty"`
	CategoryID        uint      `gorm:"index;not null" json:"categorie_id"`
	Category          *Category `gorm:"foreignKey:CategoryID" json:"categorie,omitempty"`
	TotalQuantity     int       `gorm:"not null;check:chk_equipment_total,total_quantity >= 0" json:"quantite_totale"`
	AvailableQuantity int       `gorm:"not null;check:chk_equipment_available,available_quantity >= 0 AND available_quantity <= total_quantity" json:"quantite_disponible"`
	UnitPrice         int64     `gorm:"not null;default:0" json:"prix_unitaire"`
	Condition         Condition `gorm:"column:item_condition;size:20;not null;default:'good'" json:"etat"`
	SerialNumber      *string   `gorm:"uniqueIndex;size:100" json:"numero_serie,omitempty"`
	Location          string    `gorm:"size:200" json:"localisation,omitempty"`
	ImageKey          string    `gorm:"size:255" json:"-"`
	HasImage          bool      `gorm:"-" json:"has_image"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (EquipmentItem) TableName() string { return ItemTable }

// CheckedOut is the number of units currently out of the pool.
func (it EquipmentItem) CheckedOut() int { return it.TotalQuantity - it.AvailableQuantity }

// Consistent reports whether the quantity pair satisfies 0 <= available <= total.
func (it EquipmentItem) Consistent() bool {
	return it.AvailableQuantity >= 0 && it.AvailableQuantity <= it.TotalQuantity
}

// Borrowable reports whether new requests may target the item.
func (it EquipmentItem) Borrowable() bool { return it.Condition != ConditionOutOfService }

func (it *EquipmentItem) AfterFind(*gorm.DB) error {
	it.HasImage = it.ImageKey != ""
	return nil
}
