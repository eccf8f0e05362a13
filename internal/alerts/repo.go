package alerts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmoralesb/storefront-backend/pkg/db/models"
	"github.com/dmoralesb/storefront-backend/pkg/enums"
)

// Repository manages persistence for inventory alerts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryAlert, error)
	FindByKey(ctx context.Context, productID, variationID uuid.UUID, alertType enums.AlertType) (*models.InventoryAlert, error)
	Create(ctx context.Context, alert *models.InventoryAlert) error
	Update(ctx context.Context, alert *models.InventoryAlert) error
	List(ctx context.Context, status *enums.AlertStatus, limit int) ([]models.InventoryAlert, error)
	CountActiveByType(ctx context.Context) (map[enums.AlertType]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an alert repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryAlert, error) {
	var alert models.InventoryAlert
	if err := r.db.WithContext(ctx).First(&alert, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *repository) FindByKey(ctx context.Context, productID, variationID uuid.UUID, alertType enums.AlertType) (*models.InventoryAlert, error) {
	var alert models.InventoryAlert
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND variation_id = ? AND alert_type = ?", productID, variationID, alertType).
		First(&alert).Error
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *repository) Create(ctx context.Context, alert *models.InventoryAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *repository) Update(ctx context.Context, alert *models.InventoryAlert) error {
	return r.db.WithContext(ctx).Save(alert).Error
}

func (r *repository) List(ctx context.Context, status *enums.AlertStatus, limit int) ([]models.InventoryAlert, error) {
	query := r.db.WithContext(ctx).Order("updated_at DESC")
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var alerts []models.InventoryAlert
	if err := query.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *repository) CountActiveByType(ctx context.Context) (map[enums.AlertType]int64, error) {
	type row struct {
		AlertType enums.AlertType
		Total     int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.InventoryAlert{}).
		Select("alert_type, COUNT(*) AS total").
		Where("status = ?", enums.AlertStatusActive).
		Group("alert_type").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.AlertType]int64, len(rows))
	for _, r := range rows {
		counts[r.AlertType] = r.Total
	}
	return counts, nil
}
