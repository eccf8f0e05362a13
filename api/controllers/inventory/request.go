package inventory

import (
	"github.com/google/uuid"
)

// ReserveCartRequest asks for a time-bounded hold on stock for one cart line.
type ReserveCartRequest struct {
	SessionID   string     `json:"session_id" validate:"required,max=128"`
	ProductID   uuid.UUID  `json:"product_id" validate:"required"`
	VariationID *uuid.UUID `json:"variation_id,omitempty"`
	Quantity    int        `json:"quantity" validate:"required,gt=0"`
}

// ReleaseCartRequest drops the hold for one cart line.
type ReleaseCartRequest struct {
	SessionID   string     `json:"session_id" validate:"required,max=128"`
	ProductID   uuid.UUID  `json:"product_id" validate:"required"`
	VariationID *uuid.UUID `json:"variation_id,omitempty"`
}

// ProcessOrderRequest converts a session's holds into permanent deductions.
type ProcessOrderRequest struct {
	SessionID string    `json:"session_id" validate:"required,max=128"`
	OrderID   uuid.UUID `json:"order_id" validate:"required"`
}

// RecordMovementRequest appends a manual ledger movement.
type RecordMovementRequest struct {
	ProductID    uuid.UUID  `json:"product_id" validate:"required"`
	VariationID  *uuid.UUID `json:"variation_id,omitempty"`
	MovementType string     `json:"movement_type" validate:"required"`
	Quantity     int        `json:"quantity" validate:"gte=0"`
	Reason       *string    `json:"reason,omitempty" validate:"omitempty,max=512"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	CreatedBy    *string    `json:"created_by,omitempty" validate:"omitempty,max=128"`
}

// SetAlertStatusRequest records an operator decision on an alert.
type SetAlertStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func variationOrZero(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
