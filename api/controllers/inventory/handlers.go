package inventory

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmoralesb/storefront-backend/api/responses"
	"github.com/dmoralesb/storefront-backend/api/validators"
	alertsvc "github.com/dmoralesb/storefront-backend/internal/alerts"
	invsvc "github.com/dmoralesb/storefront-backend/internal/inventory"
	"github.com/dmoralesb/storefront-backend/internal/reservations"
	"github.com/dmoralesb/storefront-backend/pkg/enums"
	pkgerrors "github.com/dmoralesb/storefront-backend/pkg/errors"
	"github.com/dmoralesb/storefront-backend/pkg/logger"
	"github.com/dmoralesb/storefront-backend/pkg/pagination"
)

// ReserveCart places or replaces the hold for one cart line.
func ReserveCart(coord reservations.Coordinator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation coordinator unavailable"))
			return
		}

		var payload ReserveCartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := coord.Reserve(r.Context(), reservations.ReserveInput{
			SessionID:   validators.SanitizeString(payload.SessionID, 128),
			ProductID:   payload.ProductID,
			VariationID: variationOrZero(payload.VariationID),
			Quantity:    payload.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newReservation(record))
	}
}

// ReleaseCart drops the hold for one cart line. Releasing a line that holds
// nothing succeeds.
func ReleaseCart(coord reservations.Coordinator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation coordinator unavailable"))
			return
		}

		var payload ReleaseCartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sessionID := validators.SanitizeString(payload.SessionID, 128)
		if err := coord.Release(r.Context(), sessionID, payload.ProductID, variationOrZero(payload.VariationID)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// ProcessOrder commits a session's holds against an order. Per-line failures
// are reported in the payload instead of failing the whole request, because
// the session's cart must clear either way.
func ProcessOrder(coord reservations.Coordinator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation coordinator unavailable"))
			return
		}

		var payload ProcessOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := coord.ProcessOrder(r.Context(), validators.SanitizeString(payload.SessionID, 128), payload.OrderID)
		if result == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err != nil && logg != nil {
			logg.Error(r.Context(), "order processed with failed lines", err)
		}

		responses.WriteSuccess(w, newOrderResult(result))
	}
}

// CleanupReservations releases every expired hold. Operators can trigger it
// directly; the sweeper worker runs the same operation on a schedule.
func CleanupReservations(coord reservations.Coordinator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation coordinator unavailable"))
			return
		}

		swept, err := coord.CleanupExpired(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, CleanupResponse{Swept: swept})
	}
}

// GetStock looks up the current stock record for a product or variant.
func GetStock(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}

		productID, variationID, err := idsFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		level, err := svc.CurrentStock(r.Context(), productID, variationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newStock(level))
	}
}

// RecordMovement appends a manual ledger movement (receiving, corrections,
// direct deductions).
func RecordMovement(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}

		var payload RecordMovementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		movementType, err := enums.ParseMovementType(payload.MovementType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid movement type"))
			return
		}

		movement, err := svc.ApplyMovement(r.Context(), invsvc.MovementInput{
			ProductID:   payload.ProductID,
			VariationID: variationOrZero(payload.VariationID),
			Type:        movementType,
			Quantity:    payload.Quantity,
			Reason:      payload.Reason,
			OrderID:     payload.OrderID,
			CreatedBy:   payload.CreatedBy,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newMovement(movement))
	}
}

// ListMovements returns the recent ledger entries for a product or variant.
func ListMovements(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}

		productID, variationID, err := idsFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		records, next, err := svc.ListMovements(r.Context(), productID, variationID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, MovementListResponse{
			Movements:  newMovementList(records),
			NextCursor: next,
		})
	}
}

// ListAlerts returns inventory alerts, optionally filtered by status.
func ListAlerts(svc alertsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "alert service unavailable"))
			return
		}

		var status *enums.AlertStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseAlertStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid alert status"))
				return
			}
			status = &parsed
		}

		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		records, err := svc.List(r.Context(), status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newAlertList(records))
	}
}

// SetAlertStatus applies an operator decision (resolve, ignore, reopen).
func SetAlertStatus(svc alertsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "alert service unavailable"))
			return
		}

		alertID, err := uuid.Parse(chi.URLParam(r, "alertId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid alert id"))
			return
		}

		var payload SetAlertStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParseAlertStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid alert status"))
			return
		}

		record, err := svc.SetStatus(r.Context(), alertID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newAlert(record))
	}
}

func idsFromQuery(r *http.Request) (productID, variationID uuid.UUID, err error) {
	rawProduct := strings.TrimSpace(r.URL.Query().Get("product_id"))
	if rawProduct == "" {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id query parameter required")
	}
	productID, parseErr := uuid.Parse(rawProduct)
	if parseErr != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid product_id")
	}

	if rawVariation := strings.TrimSpace(r.URL.Query().Get("variation_id")); rawVariation != "" {
		variationID, parseErr = uuid.Parse(rawVariation)
		if parseErr != nil {
			return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid variation_id")
		}
	}
	return productID, variationID, nil
}
