package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryItem is the authoritative stock record for a product or variant.
// StockQuantity is the available-to-sell count; ReservedQuantity is held by
// live cart reservations. Both are mutated only through ledger movements.
// A zero VariationID denotes product-level stock.
type InventoryItem struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_inventory_product_variation"`
	VariationID       uuid.UUID `gorm:"column:variation_id;type:uuid;not null;default:'00000000-0000-0000-0000-000000000000';uniqueIndex:idx_inventory_product_variation"`
	StockQuantity     int       `gorm:"column:stock_quantity;not null;default:0"`
	ReservedQuantity  int       `gorm:"column:reserved_quantity;not null;default:0"`
	LowStockThreshold int       `gorm:"column:low_stock_threshold;not null;default:0"`
	ReorderPoint      int       `gorm:"column:reorder_point;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *InventoryItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
