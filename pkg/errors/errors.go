package errors

import (
	"fmt"

	"github.com/woodmarket/orderflow/internal/domain"
)

// ErrNotFound is returned when a resource is not found
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrConflict is returned when there's a conflict (e.g., idempotency)
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "conflict"
}

// ErrValidation is returned when validation fails
type ErrValidation struct {
	Message string
	Fields  map[string]string
}

func (e *ErrValidation) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

// ErrPreconditionFailed is returned when an action is not permitted for the
// order's current state and the acting role. Condition names the unmet rule.
type ErrPreconditionFailed struct {
	Action    domain.ActionKind
	Condition string
}

func (e *ErrPreconditionFailed) Error() string {
	return fmt.Sprintf("%s not permitted: %s", e.Action, e.Condition)
}

// ErrActionInFlight is returned when the same action is already running for an order.
type ErrActionInFlight struct {
	OrderRef string
	Action   domain.ActionKind
}

func (e *ErrActionInFlight) Error() string {
	return fmt.Sprintf("%s already in flight for order %s", e.Action, e.OrderRef)
}

// ErrShipping is returned when the carrier create call or the order code update fails.
// Message carries the carrier's own message when it sent one.
type ErrShipping struct {
	Leg     domain.ShipmentLeg
	Message string
	Err     error
}

func (e *ErrShipping) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "shipment could not be created"
	}
	return fmt.Sprintf("shipping error (%s leg): %s", e.Leg, msg)
}

func (e *ErrShipping) Unwrap() error { return e.Err }

// ErrPaymentFailed is returned when the wallet debit or the gateway session fails.
// The deposit stays unpaid.
type ErrPaymentFailed struct {
	DepositNumber int
	Message       string
	Err           error
}

func (e *ErrPaymentFailed) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "payment failed"
	}
	return fmt.Sprintf("payment of deposit %d failed: %s", e.DepositNumber, msg)
}

func (e *ErrPaymentFailed) Unwrap() error { return e.Err }

// ErrTrackingUnavailable is returned for a single failed carrier tracking poll.
// Callers log and skip it.
type ErrTrackingUnavailable struct {
	OrderCode string
	Err       error
}

func (e *ErrTrackingUnavailable) Error() string {
	return fmt.Sprintf("tracking unavailable for %s: %v", e.OrderCode, e.Err)
}

func (e *ErrTrackingUnavailable) Unwrap() error { return e.Err }

// ErrUpstream is returned when the marketplace backend answers with a non-2xx status
type ErrUpstream struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *ErrUpstream) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned %d", e.Service, e.StatusCode)
}
