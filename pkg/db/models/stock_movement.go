package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmoralesb/storefront-backend/pkg/enums"
)

// StockMovement is an append-only audit record of one stock quantity change.
// PreviousStock and NewStock snapshot the bucket the movement changed so the
// log can be replayed without consulting live state. Rows are never updated
// or deleted.
type StockMovement struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ProductID     uuid.UUID          `gorm:"column:product_id;type:uuid;not null;index"`
	VariationID   uuid.UUID          `gorm:"column:variation_id;type:uuid;not null;default:'00000000-0000-0000-0000-000000000000'"`
	MovementType  enums.MovementType `gorm:"column:movement_type;not null"`
	Quantity      int                `gorm:"column:quantity;not null"`
	PreviousStock int                `gorm:"column:previous_stock;not null"`
	NewStock      int                `gorm:"column:new_stock;not null"`
	Reason        *string            `gorm:"column:reason"`
	OrderID       *uuid.UUID         `gorm:"column:order_id;type:uuid;index"`
	ReferenceID   *string            `gorm:"column:reference_id;index"`
	CreatedBy     *string            `gorm:"column:created_by"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (m *StockMovement) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
