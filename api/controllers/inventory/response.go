package inventory

import (
	"time"

	"github.com/google/uuid"

	invsvc "github.com/dmoralesb/storefront-backend/internal/inventory"
	"github.com/dmoralesb/storefront-backend/internal/reservations"
	"github.com/dmoralesb/storefront-backend/pkg/db/models"
)

// ReservationResponse is the public view of one cart hold.
type ReservationResponse struct {
	ReservationID uuid.UUID  `json:"reservation_id"`
	SessionID     string     `json:"session_id"`
	ProductID     uuid.UUID  `json:"product_id"`
	VariationID   *uuid.UUID `json:"variation_id,omitempty"`
	Quantity      int        `json:"quantity"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

func newReservation(record *models.CartReservation) ReservationResponse {
	return ReservationResponse{
		ReservationID: record.ID,
		SessionID:     record.SessionID,
		ProductID:     record.ProductID,
		VariationID:   publicVariation(record.VariationID),
		Quantity:      record.Quantity,
		ExpiresAt:     record.ExpiresAt,
	}
}

// MovementResponse is the public view of one ledger entry.
type MovementResponse struct {
	MovementID    uuid.UUID  `json:"movement_id"`
	ProductID     uuid.UUID  `json:"product_id"`
	VariationID   *uuid.UUID `json:"variation_id,omitempty"`
	MovementType  string     `json:"movement_type"`
	Quantity      int        `json:"quantity"`
	PreviousStock int        `json:"previous_stock"`
	NewStock      int        `json:"new_stock"`
	Reason        *string    `json:"reason,omitempty"`
	OrderID       *uuid.UUID `json:"order_id,omitempty"`
	ReferenceID   *string    `json:"reference_id,omitempty"`
	CreatedBy     *string    `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newMovement(record *models.StockMovement) MovementResponse {
	return MovementResponse{
		MovementID:    record.ID,
		ProductID:     record.ProductID,
		VariationID:   publicVariation(record.VariationID),
		MovementType:  record.MovementType.String(),
		Quantity:      record.Quantity,
		PreviousStock: record.PreviousStock,
		NewStock:      record.NewStock,
		Reason:        record.Reason,
		OrderID:       record.OrderID,
		ReferenceID:   record.ReferenceID,
		CreatedBy:     record.CreatedBy,
		CreatedAt:     record.CreatedAt,
	}
}

// MovementListResponse is one page of the ledger plus the cursor for the next.
type MovementListResponse struct {
	Movements  []MovementResponse `json:"movements"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

func newMovementList(records []models.StockMovement) []MovementResponse {
	out := make([]MovementResponse, 0, len(records))
	for i := range records {
		out = append(out, newMovement(&records[i]))
	}
	return out
}

// AlertResponse is the public view of one inventory alert.
type AlertResponse struct {
	AlertID        uuid.UUID  `json:"alert_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	VariationID    *uuid.UUID `json:"variation_id,omitempty"`
	AlertType      string     `json:"alert_type"`
	CurrentStock   int        `json:"current_stock"`
	ThresholdValue int        `json:"threshold_value"`
	Status         string     `json:"status"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func newAlert(record *models.InventoryAlert) AlertResponse {
	return AlertResponse{
		AlertID:        record.ID,
		ProductID:      record.ProductID,
		VariationID:    publicVariation(record.VariationID),
		AlertType:      record.AlertType.String(),
		CurrentStock:   record.CurrentStock,
		ThresholdValue: record.ThresholdValue,
		Status:         record.Status.String(),
		ResolvedAt:     record.ResolvedAt,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

func newAlertList(records []models.InventoryAlert) []AlertResponse {
	out := make([]AlertResponse, 0, len(records))
	for i := range records {
		out = append(out, newAlert(&records[i]))
	}
	return out
}

// FailedLineResponse reports one order line whose deduction failed.
type FailedLineResponse struct {
	ProductID   uuid.UUID  `json:"product_id"`
	VariationID *uuid.UUID `json:"variation_id,omitempty"`
	Quantity    int        `json:"quantity"`
	Error       string     `json:"error"`
}

// OrderResultResponse summarizes an order commit.
type OrderResultResponse struct {
	Committed int                  `json:"committed"`
	Failed    []FailedLineResponse `json:"failed,omitempty"`
}

func newOrderResult(result *reservations.OrderResult) OrderResultResponse {
	out := OrderResultResponse{Committed: result.Committed}
	for _, line := range result.Failed {
		msg := "deduction failed"
		if line.Err != nil {
			msg = line.Err.Error()
		}
		out.Failed = append(out.Failed, FailedLineResponse{
			ProductID:   line.ProductID,
			VariationID: publicVariation(line.VariationID),
			Quantity:    line.Quantity,
			Error:       msg,
		})
	}
	return out
}

// CleanupResponse reports how many expired holds a sweep released.
type CleanupResponse struct {
	Swept int `json:"swept"`
}

// StockResponse is the public view of one stock record.
type StockResponse struct {
	ProductID         uuid.UUID  `json:"product_id"`
	VariationID       *uuid.UUID `json:"variation_id,omitempty"`
	StockQuantity     int        `json:"stock_quantity"`
	ReservedQuantity  int        `json:"reserved_quantity"`
	LowStockThreshold int        `json:"low_stock_threshold"`
	ReorderPoint      int        `json:"reorder_point"`
}

func newStock(level *invsvc.StockLevel) StockResponse {
	return StockResponse{
		ProductID:         level.ProductID,
		VariationID:       publicVariation(level.VariationID),
		StockQuantity:     level.StockQuantity,
		ReservedQuantity:  level.ReservedQuantity,
		LowStockThreshold: level.LowStockThreshold,
		ReorderPoint:      level.ReorderPoint,
	}
}

// Stored zero UUIDs mean product-level stock; the API shows that as absent.
func publicVariation(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
