package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmoralesb/storefront-backend/pkg/db/models"
	"github.com/dmoralesb/storefront-backend/pkg/pagination"
)

// Repository manages persistence for stock records and their movement log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindItem(ctx context.Context, productID, variationID uuid.UUID) (*models.InventoryItem, error)
	CreateItem(ctx context.Context, item *models.InventoryItem) error
	// ApplyDelta atomically offsets both stock buckets, guarded so neither
	// can go negative. Returns false when the guard rejected the update or
	// no matching row exists.
	ApplyDelta(ctx context.Context, productID, variationID uuid.UUID, availableDelta, reservedDelta int) (bool, error)
	// SetStock is a compare-and-swap on the available bucket: the update only
	// lands when stock_quantity still equals expected.
	SetStock(ctx context.Context, productID, variationID uuid.UUID, expected, target int) (bool, error)
	CreateMovement(ctx context.Context, movement *models.StockMovement) error
	ListMovements(ctx context.Context, productID, variationID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.StockMovement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindItem(ctx context.Context, productID, variationID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND variation_id = ?", productID, variationID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *repository) CreateItem(ctx context.Context, item *models.InventoryItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repository) ApplyDelta(ctx context.Context, productID, variationID uuid.UUID, availableDelta, reservedDelta int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("product_id = ? AND variation_id = ?", productID, variationID).
		Where("stock_quantity + ? >= 0 AND reserved_quantity + ? >= 0", availableDelta, reservedDelta).
		Updates(map[string]any{
			"stock_quantity":    gorm.Expr("stock_quantity + ?", availableDelta),
			"reserved_quantity": gorm.Expr("reserved_quantity + ?", reservedDelta),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SetStock(ctx context.Context, productID, variationID uuid.UUID, expected, target int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("product_id = ? AND variation_id = ? AND stock_quantity = ?", productID, variationID, expected).
		Update("stock_quantity", target)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) CreateMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) ListMovements(ctx context.Context, productID, variationID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.StockMovement, error) {
	query := r.db.WithContext(ctx).
		Where("product_id = ? AND variation_id = ?", productID, variationID).
		Order("created_at DESC, id DESC")
	if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var movements []models.StockMovement
	if err := query.Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}
