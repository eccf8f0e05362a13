package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CartReservation is a time-bounded hold on stock for one cart line.
// At most one row exists per (session_id, product_id, variation_id);
// a repeat reserve replaces the quantity and refreshes the expiry.
type CartReservation struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SessionID   string    `gorm:"column:session_id;not null;uniqueIndex:idx_reservation_key;index:idx_reservation_session"`
	ProductID   uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_reservation_key"`
	VariationID uuid.UUID `gorm:"column:variation_id;type:uuid;not null;default:'00000000-0000-0000-0000-000000000000';uniqueIndex:idx_reservation_key"`
	Quantity    int       `gorm:"column:quantity;not null"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *CartReservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
