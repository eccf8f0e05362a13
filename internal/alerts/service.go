package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmoralesb/storefront-backend/pkg/db"
	"github.com/dmoralesb/storefront-backend/pkg/db/models"
	"github.com/dmoralesb/storefront-backend/pkg/enums"
	pkgerrors "github.com/dmoralesb/storefront-backend/pkg/errors"
	"github.com/dmoralesb/storefront-backend/pkg/logger"
)

// Service maintains the derived alert view of the stock ledger. Alerts are
// never deleted: active rows are raised by recomputes, and only operators
// move them to resolved or ignored.
type Service interface {
	Recompute(ctx context.Context, item *models.InventoryItem) error
	List(ctx context.Context, status *enums.AlertStatus, limit int) ([]models.InventoryAlert, error)
	SetStatus(ctx context.Context, id uuid.UUID, status enums.AlertStatus) (*models.InventoryAlert, error)
	ActiveCounts(ctx context.Context) (map[enums.AlertType]int64, error)
}

// ServiceParams wire the alerting service.
type ServiceParams struct {
	Repository Repository
	Logger     *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds the alerting service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("alert repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo: params.Repository,
		logg: params.Logger,
		now:  time.Now,
	}, nil
}

type condition struct {
	alertType enums.AlertType
	triggered bool
	threshold int
}

func conditionsFor(item *models.InventoryItem) []condition {
	return []condition{
		{
			alertType: enums.AlertTypeOutOfStock,
			triggered: item.StockQuantity == 0,
			threshold: 0,
		},
		{
			alertType: enums.AlertTypeLowStock,
			triggered: item.LowStockThreshold > 0 && item.StockQuantity <= item.LowStockThreshold,
			threshold: item.LowStockThreshold,
		},
		{
			alertType: enums.AlertTypeReorderPoint,
			triggered: item.ReorderPoint > 0 && item.StockQuantity <= item.ReorderPoint,
			threshold: item.ReorderPoint,
		},
	}
}

// Recompute refreshes the alert rows for one stock record. An operator-set
// resolved or ignored status is only overridden when the stock count moved
// since that decision was made.
func (s *service) Recompute(ctx context.Context, item *models.InventoryItem) error {
	if item == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock record required")
	}

	for _, cond := range conditionsFor(item) {
		existing, err := s.repo.FindByKey(ctx, item.ProductID, item.VariationID, cond.alertType)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load alert")
		}

		if existing == nil {
			if !cond.triggered {
				continue
			}
			alert := &models.InventoryAlert{
				ProductID:      item.ProductID,
				VariationID:    item.VariationID,
				AlertType:      cond.alertType,
				CurrentStock:   item.StockQuantity,
				ThresholdValue: cond.threshold,
				Status:         enums.AlertStatusActive,
			}
			if err := s.repo.Create(ctx, alert); err != nil {
				// concurrent recompute beat us to the same (item, type) key
				if db.IsUniqueViolation(err, "idx_alert_key") {
					continue
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create alert")
			}
			continue
		}

		stockMoved := existing.CurrentStock != item.StockQuantity
		if !cond.triggered {
			// the operator owns resolution; just keep the snapshot fresh
			if stockMoved {
				existing.CurrentStock = item.StockQuantity
				existing.ThresholdValue = cond.threshold
				if err := s.repo.Update(ctx, existing); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update alert")
				}
			}
			continue
		}

		existing.CurrentStock = item.StockQuantity
		existing.ThresholdValue = cond.threshold
		if existing.Status != enums.AlertStatusActive && stockMoved {
			existing.Status = enums.AlertStatusActive
			existing.ResolvedAt = nil
		}
		if err := s.repo.Update(ctx, existing); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update alert")
		}
	}
	return nil
}

func (s *service) List(ctx context.Context, status *enums.AlertStatus, limit int) ([]models.InventoryAlert, error) {
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid alert status %q", *status))
	}
	alerts, err := s.repo.List(ctx, status, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list alerts")
	}
	return alerts, nil
}

func (s *service) SetStatus(ctx context.Context, id uuid.UUID, status enums.AlertStatus) (*models.InventoryAlert, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "alert id required")
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid alert status %q", status))
	}

	alert, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "alert not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load alert")
	}

	alert.Status = status
	switch status {
	case enums.AlertStatusResolved, enums.AlertStatusIgnored:
		resolvedAt := s.now().UTC()
		alert.ResolvedAt = &resolvedAt
	default:
		alert.ResolvedAt = nil
	}
	if err := s.repo.Update(ctx, alert); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update alert")
	}
	return alert, nil
}

func (s *service) ActiveCounts(ctx context.Context) (map[enums.AlertType]int64, error) {
	counts, err := s.repo.CountActiveByType(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active alerts")
	}
	return counts, nil
}
