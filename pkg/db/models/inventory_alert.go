package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmoralesb/storefront-backend/pkg/enums"
)

// InventoryAlert is derived state recomputed after ledger movements.
// Resolved/ignored statuses are operator decisions and survive recomputes
// until the stock count changes again.
type InventoryAlert struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ProductID      uuid.UUID         `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_alert_key"`
	VariationID    uuid.UUID         `gorm:"column:variation_id;type:uuid;not null;default:'00000000-0000-0000-0000-000000000000';uniqueIndex:idx_alert_key"`
	AlertType      enums.AlertType   `gorm:"column:alert_type;not null;uniqueIndex:idx_alert_key"`
	CurrentStock   int               `gorm:"column:current_stock;not null"`
	ThresholdValue int               `gorm:"column:threshold_value;not null"`
	Status         enums.AlertStatus `gorm:"column:status;not null;default:'active'"`
	ResolvedAt     *time.Time        `gorm:"column:resolved_at"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *InventoryAlert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
