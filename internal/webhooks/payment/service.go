package paymentwebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dmoralesb/storefront-backend/internal/reservations"
	pkgerrors "github.com/dmoralesb/storefront-backend/pkg/errors"
	"github.com/dmoralesb/storefront-backend/pkg/logger"
)

const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentCanceled  = "payment.canceled"
)

// Event is the gateway's delivery envelope.
type Event struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Data      EventData `json:"data"`
}

// EventData carries the payment outcome this subsystem cares about: which
// cart session settled, under which order.
type EventData struct {
	OrderID   uuid.UUID `json:"order_id"`
	SessionID string    `json:"session_id"`
	PaymentID string    `json:"payment_id"`
}

type ServiceParams struct {
	Coordinator reservations.Coordinator
	Logger      *logger.Logger
}

// Service converts settled payments into committed stock. Failed and canceled
// payments keep their holds; the expiry sweeper reclaims them.
type Service struct {
	coordinator reservations.Coordinator
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Coordinator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reservation coordinator required")
	}
	return &Service{
		coordinator: params.Coordinator,
		logg:        params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment event required")
	}

	switch event.EventType {
	case EventTypePaymentCompleted:
		return s.commitOrder(ctx, event)
	case EventTypePaymentFailed, EventTypePaymentCanceled:
		// Holds stay until their TTL lapses so the shopper can retry payment.
		if s.logg != nil {
			s.logg.Info(ctx, fmt.Sprintf("payment event %s for session %s left holds in place", event.EventType, event.Data.SessionID))
		}
		return nil
	default:
		return nil
	}
}

func (s *Service) commitOrder(ctx context.Context, event *Event) error {
	sessionID := strings.TrimSpace(event.Data.SessionID)
	if sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id missing from payment event")
	}
	if event.Data.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id missing from payment event")
	}

	result, err := s.coordinator.ProcessOrder(ctx, sessionID, event.Data.OrderID)
	if result == nil {
		return err
	}
	if err != nil && s.logg != nil {
		s.logg.Error(ctx, fmt.Sprintf("order %s committed %d lines with %d failures", event.Data.OrderID, result.Committed, len(result.Failed)), err)
	}
	// Lines that failed to deduct are an operational follow-up, not a reason
	// to make the gateway redeliver an event that already cleared the cart.
	return nil
}
