package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmoralesb/storefront-backend/pkg/db/models"
)

// Repository manages persistence for cart reservation rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByKey(ctx context.Context, sessionID string, productID, variationID uuid.UUID) (*models.CartReservation, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.CartReservation, error)
	// ListExpired returns reservations whose expiry is at or before cutoff,
	// oldest first, capped at limit when limit > 0.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.CartReservation, error)
	Create(ctx context.Context, reservation *models.CartReservation) error
	UpdateQuantityAndExpiry(ctx context.Context, id uuid.UUID, quantity int, expiresAt time.Time) error
	// DeleteByID reports whether a row was actually removed, so callers can
	// treat an already-deleted row as settled.
	DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a reservation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByKey(ctx context.Context, sessionID string, productID, variationID uuid.UUID) (*models.CartReservation, error) {
	var reservation models.CartReservation
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND product_id = ? AND variation_id = ?", sessionID, productID, variationID).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) ListBySession(ctx context.Context, sessionID string) ([]models.CartReservation, error) {
	var reservations []models.CartReservation
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.CartReservation, error) {
	query := r.db.WithContext(ctx).
		Where("expires_at <= ?", cutoff).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var reservations []models.CartReservation
	if err := query.Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) Create(ctx context.Context, reservation *models.CartReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) UpdateQuantityAndExpiry(ctx context.Context, id uuid.UUID, quantity int, expiresAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CartReservation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"quantity":   quantity,
			"expires_at": expiresAt,
		}).Error
}

func (r *repository) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.CartReservation{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.CartReservation{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
