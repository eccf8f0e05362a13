package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmoralesb/storefront-backend/pkg/db/models"
	"github.com/dmoralesb/storefront-backend/pkg/enums"
	pkgerrors "github.com/dmoralesb/storefront-backend/pkg/errors"
	"github.com/dmoralesb/storefront-backend/pkg/logger"
	"github.com/dmoralesb/storefront-backend/pkg/pagination"
)

// Movements retry the adjustment CAS a few times before giving up.
const adjustmentRetries = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type alertRecomputer interface {
	Recompute(ctx context.Context, item *models.InventoryItem) error
}

// MovementInput captures one requested stock change.
type MovementInput struct {
	ProductID   uuid.UUID
	VariationID uuid.UUID
	Type        enums.MovementType
	Quantity    int
	Reason      *string
	OrderID     *uuid.UUID
	ReferenceID *string
	CreatedBy   *string
	// FromReserved marks an out movement that retires a cart hold: the
	// deduction comes from the reserved bucket because available stock was
	// already reduced when the hold was taken.
	FromReserved bool
}

// StockLevel is the read model for a stock record.
type StockLevel struct {
	ProductID         uuid.UUID `json:"product_id"`
	VariationID       uuid.UUID `json:"variation_id,omitempty"`
	StockQuantity     int       `json:"stock_quantity"`
	ReservedQuantity  int       `json:"reserved_quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	ReorderPoint      int       `json:"reorder_point"`
}

// Service is the stock ledger: the only path through which stock quantities
// change, and the source of truth for availability.
type Service interface {
	CurrentStock(ctx context.Context, productID, variationID uuid.UUID) (*StockLevel, error)
	ApplyMovement(ctx context.Context, input MovementInput) (*models.StockMovement, error)
	ApplyMovementTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.StockMovement, error)
	RecomputeAlerts(ctx context.Context, productID, variationID uuid.UUID)
	ListMovements(ctx context.Context, productID, variationID uuid.UUID, params pagination.Params) ([]models.StockMovement, string, error)
}

type service struct {
	tx     txRunner
	repo   Repository
	alerts alertRecomputer
	logg   *logger.Logger
}

// ServiceParams wire the ledger service.
type ServiceParams struct {
	Tx         txRunner
	Repository Repository
	Alerts     alertRecomputer
	Logger     *logger.Logger
}

// NewService builds the stock ledger service. Alerts are optional; when
// present, recomputes run best-effort after standalone movements.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:     params.Tx,
		repo:   params.Repository,
		alerts: params.Alerts,
		logg:   params.Logger,
	}, nil
}

func (s *service) CurrentStock(ctx context.Context, productID, variationID uuid.UUID) (*StockLevel, error) {
	item, err := s.repo.FindItem(ctx, productID, variationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	return &StockLevel{
		ProductID:         item.ProductID,
		VariationID:       item.VariationID,
		StockQuantity:     item.StockQuantity,
		ReservedQuantity:  item.ReservedQuantity,
		LowStockThreshold: item.LowStockThreshold,
		ReorderPoint:      item.ReorderPoint,
	}, nil
}

func (s *service) ApplyMovement(ctx context.Context, input MovementInput) (*models.StockMovement, error) {
	var movement *models.StockMovement
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		applied, txErr := s.ApplyMovementTx(ctx, tx, input)
		if txErr != nil {
			return txErr
		}
		movement = applied
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.RecomputeAlerts(ctx, input.ProductID, input.VariationID)
	return movement, nil
}

// ApplyMovementTx applies a movement inside a caller-owned transaction.
// The availability check and the stock change are one conditional update,
// so concurrent movements against the same record cannot oversell.
// Callers owning the transaction are responsible for triggering
// RecomputeAlerts after commit.
func (s *service) ApplyMovementTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.StockMovement, error) {
	if err := validateMovementInput(input); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)

	if input.Type == enums.MovementTypeAdjustment {
		return s.applyAdjustment(ctx, repo, input)
	}

	availableDelta, reservedDelta := bucketDeltas(input)

	ok, err := repo.ApplyDelta(ctx, input.ProductID, input.VariationID, availableDelta, reservedDelta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply stock delta")
	}
	if !ok {
		return nil, s.classifyRejection(ctx, repo, input)
	}

	// The conditional update holds the row lock for the rest of the
	// transaction, so this read observes exactly the state it produced.
	item, err := repo.FindItem(ctx, input.ProductID, input.VariationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload stock record")
	}

	newStock, previousStock := snapshotFor(item, input, availableDelta)

	movement := &models.StockMovement{
		ProductID:     input.ProductID,
		VariationID:   input.VariationID,
		MovementType:  input.Type,
		Quantity:      input.Quantity,
		PreviousStock: previousStock,
		NewStock:      newStock,
		Reason:        input.Reason,
		OrderID:       input.OrderID,
		ReferenceID:   input.ReferenceID,
		CreatedBy:     input.CreatedBy,
	}
	if err := repo.CreateMovement(ctx, movement); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock movement")
	}
	return movement, nil
}

func (s *service) applyAdjustment(ctx context.Context, repo Repository, input MovementInput) (*models.StockMovement, error) {
	for attempt := 0; attempt < adjustmentRetries; attempt++ {
		item, err := repo.FindItem(ctx, input.ProductID, input.VariationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
		}

		ok, err := repo.SetStock(ctx, input.ProductID, input.VariationID, item.StockQuantity, input.Quantity)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set stock quantity")
		}
		if !ok {
			// another writer moved the count between read and swap
			continue
		}

		movement := &models.StockMovement{
			ProductID:     input.ProductID,
			VariationID:   input.VariationID,
			MovementType:  input.Type,
			Quantity:      input.Quantity,
			PreviousStock: item.StockQuantity,
			NewStock:      input.Quantity,
			Reason:        input.Reason,
			OrderID:       input.OrderID,
			ReferenceID:   input.ReferenceID,
			CreatedBy:     input.CreatedBy,
		}
		if err := repo.CreateMovement(ctx, movement); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock movement")
		}
		return movement, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "stock adjustment contention, retry")
}

// classifyRejection turns a guarded-update miss into the right error: the
// record may be missing, or the guard refused a bucket underflow.
func (s *service) classifyRejection(ctx context.Context, repo Repository, input MovementInput) error {
	item, err := repo.FindItem(ctx, input.ProductID, input.VariationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}

	switch input.Type {
	case enums.MovementTypeReserved:
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{
				"requested": input.Quantity,
				"available": item.StockQuantity,
			})
	case enums.MovementTypeOut:
		if input.FromReserved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "deduction exceeds reserved stock")
		}
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{
				"requested": input.Quantity,
				"available": item.StockQuantity,
			})
	case enums.MovementTypeReleased:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "release exceeds reserved stock")
	default:
		return pkgerrors.New(pkgerrors.CodeConflict, "stock update rejected")
	}
}

func (s *service) RecomputeAlerts(ctx context.Context, productID, variationID uuid.UUID) {
	if s.alerts == nil {
		return
	}
	item, err := s.repo.FindItem(ctx, productID, variationID)
	if err != nil {
		s.logg.Error(ctx, "alert recompute: load stock record", err)
		return
	}
	if err := s.alerts.Recompute(ctx, item); err != nil {
		// alerting is a derived view; a failed recompute never unwinds a movement
		s.logg.Error(ctx, "alert recompute failed", err)
	}
}

// ListMovements pages through the ledger newest-first. The returned cursor is
// empty on the last page.
func (s *service) ListMovements(ctx context.Context, productID, variationID uuid.UUID, params pagination.Params) ([]models.StockMovement, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	movements, err := s.repo.ListMovements(ctx, productID, variationID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock movements")
	}

	next := ""
	if len(movements) > limit {
		movements = movements[:limit]
		last := movements[limit-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return movements, next, nil
}

func validateMovementInput(input MovementInput) error {
	if input.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid movement type %q", input.Type))
	}
	if input.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	// Adjustments set an explicit target, so zero is a valid quantity there.
	if input.Quantity == 0 && input.Type != enums.MovementTypeAdjustment {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be a positive integer")
	}
	if input.FromReserved && input.Type != enums.MovementTypeOut {
		return pkgerrors.New(pkgerrors.CodeValidation, "only out movements can draw from reserved stock")
	}
	return nil
}

func bucketDeltas(input MovementInput) (availableDelta, reservedDelta int) {
	switch input.Type {
	case enums.MovementTypeIn:
		return input.Quantity, 0
	case enums.MovementTypeReserved:
		return -input.Quantity, input.Quantity
	case enums.MovementTypeReleased:
		return input.Quantity, -input.Quantity
	case enums.MovementTypeOut:
		if input.FromReserved {
			return 0, -input.Quantity
		}
		return -input.Quantity, 0
	default:
		return 0, 0
	}
}

// snapshotFor picks the bucket the movement changed and derives its
// before/after pair from the post-update state.
func snapshotFor(item *models.InventoryItem, input MovementInput, availableDelta int) (newStock, previousStock int) {
	if input.Type == enums.MovementTypeOut && input.FromReserved {
		return item.ReservedQuantity, item.ReservedQuantity + input.Quantity
	}
	return item.StockQuantity, item.StockQuantity - availableDelta
}
