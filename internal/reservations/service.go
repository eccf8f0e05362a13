package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/dmoralesb/storefront-backend/internal/inventory"
	"github.com/dmoralesb/storefront-backend/pkg/config"
	"github.com/dmoralesb/storefront-backend/pkg/db"
	"github.com/dmoralesb/storefront-backend/pkg/db/models"
	"github.com/dmoralesb/storefront-backend/pkg/enums"
	pkgerrors "github.com/dmoralesb/storefront-backend/pkg/errors"
	"github.com/dmoralesb/storefront-backend/pkg/logger"
	"github.com/dmoralesb/storefront-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type catalogReader interface {
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindVariant(ctx context.Context, id uuid.UUID) (*models.ProductVariant, error)
}

type stockLedger interface {
	ApplyMovementTx(ctx context.Context, tx *gorm.DB, input inventory.MovementInput) (*models.StockMovement, error)
	RecomputeAlerts(ctx context.Context, productID, variationID uuid.UUID)
}

// ReserveInput is one cart line hold request. A zero VariationID targets
// product-level stock.
type ReserveInput struct {
	SessionID   string
	ProductID   uuid.UUID
	VariationID uuid.UUID
	Quantity    int
}

// FailedLine identifies a reservation whose permanent deduction failed
// during order processing. These lines need manual reconciliation.
type FailedLine struct {
	ReservationID uuid.UUID
	ProductID     uuid.UUID
	VariationID   uuid.UUID
	Quantity      int
	Err           error
}

// OrderResult summarizes an order commit: how many lines were deducted and
// which ones failed.
type OrderResult struct {
	Committed int
	Failed    []FailedLine
}

// Coordinator owns the reservation lifecycle: it pairs every reservation row
// change with the matching stock movement in one transaction.
type Coordinator interface {
	Reserve(ctx context.Context, input ReserveInput) (*models.CartReservation, error)
	Release(ctx context.Context, sessionID string, productID, variationID uuid.UUID) error
	ProcessOrder(ctx context.Context, sessionID string, orderID uuid.UUID) (*OrderResult, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// CoordinatorParams wire the reservation coordinator.
type CoordinatorParams struct {
	Tx         txRunner
	Repository Repository
	Catalog    catalogReader
	Ledger     stockLedger
	Config     config.ReservationConfig
	Metrics    *metrics.ReservationMetrics
	Logger     *logger.Logger
}

type coordinator struct {
	tx      txRunner
	repo    Repository
	catalog catalogReader
	ledger  stockLedger
	cfg     config.ReservationConfig
	metrics *metrics.ReservationMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewCoordinator builds the reservation coordinator.
func NewCoordinator(params CoordinatorParams) (Coordinator, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	m := params.Metrics
	if m == nil {
		m = &metrics.ReservationMetrics{}
	}
	return &coordinator{
		tx:      params.Tx,
		repo:    params.Repository,
		catalog: params.Catalog,
		ledger:  params.Ledger,
		cfg:     params.Config,
		metrics: m,
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

func (c *coordinator) Reserve(ctx context.Context, input ReserveInput) (*models.CartReservation, error) {
	if input.SessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be a positive integer")
	}

	if err := c.checkSellable(ctx, input.ProductID, input.VariationID); err != nil {
		return nil, err
	}

	ctx = c.logg.WithSessionID(ctx, input.SessionID)
	expiresAt := c.now().UTC().Add(c.cfg.TTL())
	reference := "cart_" + input.SessionID

	var reservation *models.CartReservation
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := c.repo.WithTx(tx)

		existing, findErr := repo.FindByKey(ctx, input.SessionID, input.ProductID, input.VariationID)
		if findErr != nil && !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load reservation")
		}

		// Only the difference against the existing hold moves stock, so a
		// repeat reserve for the same line never double-counts.
		held := 0
		if existing != nil {
			held = existing.Quantity
		}
		delta := input.Quantity - held

		switch {
		case delta > 0:
			if _, mvErr := c.ledger.ApplyMovementTx(ctx, tx, inventory.MovementInput{
				ProductID:   input.ProductID,
				VariationID: input.VariationID,
				Type:        enums.MovementTypeReserved,
				Quantity:    delta,
				ReferenceID: &reference,
			}); mvErr != nil {
				return mvErr
			}
		case delta < 0:
			if _, mvErr := c.ledger.ApplyMovementTx(ctx, tx, inventory.MovementInput{
				ProductID:   input.ProductID,
				VariationID: input.VariationID,
				Type:        enums.MovementTypeReleased,
				Quantity:    -delta,
				ReferenceID: &reference,
			}); mvErr != nil {
				return mvErr
			}
		}

		if existing == nil {
			reservation = &models.CartReservation{
				SessionID:   input.SessionID,
				ProductID:   input.ProductID,
				VariationID: input.VariationID,
				Quantity:    input.Quantity,
				ExpiresAt:   expiresAt,
			}
			if crErr := repo.Create(ctx, reservation); crErr != nil {
				// a concurrent first reserve for the same key won the insert
				if db.IsUniqueViolation(crErr, "idx_reservation_key") {
					return pkgerrors.Wrap(pkgerrors.CodeConflict, crErr, "reservation already exists for this cart line")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, crErr, "create reservation")
			}
			return nil
		}

		if updErr := repo.UpdateQuantityAndExpiry(ctx, existing.ID, input.Quantity, expiresAt); updErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, updErr, "update reservation")
		}
		existing.Quantity = input.Quantity
		existing.ExpiresAt = expiresAt
		reservation = existing
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInsufficientStock {
			c.metrics.IncOversellRejected()
			c.metrics.IncReserved("insufficient_stock")
		} else {
			c.metrics.IncReserved("error")
		}
		return nil, err
	}

	c.metrics.IncReserved("ok")
	c.ledger.RecomputeAlerts(ctx, input.ProductID, input.VariationID)
	return reservation, nil
}

func (c *coordinator) Release(ctx context.Context, sessionID string, productID, variationID uuid.UUID) error {
	if sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}

	ctx = c.logg.WithSessionID(ctx, sessionID)
	reference := "cart_release_" + sessionID

	released := false
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := c.repo.WithTx(tx)

		existing, findErr := repo.FindByKey(ctx, sessionID, productID, variationID)
		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				// nothing held; releasing twice is fine
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load reservation")
		}

		if _, mvErr := c.ledger.ApplyMovementTx(ctx, tx, inventory.MovementInput{
			ProductID:   productID,
			VariationID: variationID,
			Type:        enums.MovementTypeReleased,
			Quantity:    existing.Quantity,
			ReferenceID: &reference,
		}); mvErr != nil {
			return mvErr
		}
		if _, delErr := repo.DeleteByID(ctx, existing.ID); delErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, delErr, "delete reservation")
		}
		released = true
		return nil
	})
	if err != nil {
		return err
	}
	if released {
		c.metrics.IncReleased("manual")
		c.ledger.RecomputeAlerts(ctx, productID, variationID)
	}
	return nil
}

// ProcessOrder converts a session's holds into permanent deductions. Each
// line commits in its own transaction so one bad line cannot unwind the
// rest; failed lines are reported back for reconciliation and every
// reservation row for the session is removed regardless.
func (c *coordinator) ProcessOrder(ctx context.Context, sessionID string, orderID uuid.UUID) (*OrderResult, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	ctx = c.logg.WithSessionID(ctx, sessionID)
	ctx = c.logg.WithOrderID(ctx, orderID.String())
	reference := "order_" + orderID.String()

	lines, err := c.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list session reservations")
	}

	result := &OrderResult{}
	var errs []error
	for _, line := range lines {
		lineErr := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := c.repo.WithTx(tx)
			removed, delErr := repo.DeleteByID(ctx, line.ID)
			if delErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, delErr, "delete reservation")
			}
			if !removed {
				// another path already settled this line
				return nil
			}
			_, mvErr := c.ledger.ApplyMovementTx(ctx, tx, inventory.MovementInput{
				ProductID:    line.ProductID,
				VariationID:  line.VariationID,
				Type:         enums.MovementTypeOut,
				Quantity:     line.Quantity,
				OrderID:      &orderID,
				ReferenceID:  &reference,
				FromReserved: true,
			})
			return mvErr
		})
		if lineErr != nil {
			c.logg.Error(c.logg.WithProductID(ctx, line.ProductID.String()), "order line deduction failed", lineErr)
			result.Failed = append(result.Failed, FailedLine{
				ReservationID: line.ID,
				ProductID:     line.ProductID,
				VariationID:   line.VariationID,
				Quantity:      line.Quantity,
				Err:           lineErr,
			})
			errs = append(errs, lineErr)
			continue
		}
		result.Committed++
		c.metrics.IncCommitted()
		c.ledger.RecomputeAlerts(ctx, line.ProductID, line.VariationID)
	}

	// Failed lines must not linger as holds against stock that the order
	// path could not account for.
	if _, delErr := c.repo.DeleteBySession(ctx, sessionID); delErr != nil {
		errs = append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, delErr, "clear session reservations"))
	}

	return result, multierr.Combine(errs...)
}

// CleanupExpired releases every lapsed hold, batch-limited per pass.
// A row deleted by a concurrent path counts as already handled.
func (c *coordinator) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := c.now().UTC()
	expired, err := c.repo.ListExpired(ctx, cutoff, c.cfg.SweepBatchLimit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired reservations")
	}

	actor := c.cfg.SystemActorLabel
	swept := 0
	var errs []error
	recompute := map[[2]uuid.UUID]bool{}
	for _, line := range expired {
		reference := "cart_expired_" + line.SessionID
		removed := false
		lineErr := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := c.repo.WithTx(tx)
			ok, delErr := repo.DeleteByID(ctx, line.ID)
			if delErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, delErr, "delete expired reservation")
			}
			if !ok {
				return nil
			}
			input := inventory.MovementInput{
				ProductID:   line.ProductID,
				VariationID: line.VariationID,
				Type:        enums.MovementTypeReleased,
				Quantity:    line.Quantity,
				ReferenceID: &reference,
			}
			if actor != "" {
				input.CreatedBy = &actor
			}
			if _, mvErr := c.ledger.ApplyMovementTx(ctx, tx, input); mvErr != nil {
				return mvErr
			}
			removed = true
			return nil
		})
		if lineErr != nil {
			c.logg.Error(c.logg.WithSessionID(ctx, line.SessionID), "expired reservation sweep failed", lineErr)
			errs = append(errs, lineErr)
			continue
		}
		if removed {
			swept++
			c.metrics.IncReleased("expired")
			recompute[[2]uuid.UUID{line.ProductID, line.VariationID}] = true
		}
	}

	c.metrics.AddSwept(swept)
	for key := range recompute {
		c.ledger.RecomputeAlerts(ctx, key[0], key[1])
	}
	return swept, multierr.Combine(errs...)
}

// checkSellable verifies the reservation targets an active catalog record.
func (c *coordinator) checkSellable(ctx context.Context, productID, variationID uuid.UUID) error {
	product, err := c.catalog.FindProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !product.IsActive {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "product is not active")
	}
	if variationID == uuid.Nil {
		return nil
	}
	variant, err := c.catalog.FindVariant(ctx, variationID)
	if err != nil {
		return err
	}
	if variant.ProductID != productID {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant does not belong to product")
	}
	if !variant.IsActive {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "product variant is not active")
	}
	return nil
}
