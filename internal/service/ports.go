package service

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/woodmarket/orderflow/internal/carrier"
	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/events"
)

var tracer = otel.Tracer("github.com/woodmarket/orderflow/internal/service")

// Carrier creates and tracks carrier shipments
type Carrier interface {
	CreateShipment(ctx context.Context, req carrier.CreateRequest) (string, error)
	Track(ctx context.Context, orderCode string) (*carrier.Tracking, error)
}

// ShipmentStore reads shipment rows and persists carrier codes on the backend
type ShipmentStore interface {
	ListShipments(ctx context.Context, ref domain.OrderRef) ([]domain.Shipment, error)
	UpdateShipmentOrderCode(ctx context.Context, ref domain.OrderRef, shipmentID int64, code string) error
}

// PaymentAPI is the pair of payment rails offered for a deposit
type PaymentAPI interface {
	PayDepositWallet(ctx context.Context, ref domain.OrderRef, deposit domain.Deposit, payerID string) error
	CreateGatewaySession(ctx context.Context, ref domain.OrderRef, deposit domain.Deposit, payerID, returnURL string) (string, error)
}

// ProgressRecorder appends progress events, which moves the order's status on the backend
type ProgressRecorder interface {
	AddProgress(ctx context.Context, ref domain.OrderRef, status domain.OrderStatus, note string) error
}

// OrderReader fetches everything an order's workflow state is built from
type OrderReader interface {
	GetOrder(ctx context.Context, ref domain.OrderRef) (*domain.Order, error)
	ListDeposits(ctx context.Context, ref domain.OrderRef) ([]domain.Deposit, error)
	ListShipments(ctx context.Context, ref domain.OrderRef) ([]domain.Shipment, error)
	ListProgress(ctx context.Context, ref domain.OrderRef) ([]domain.ProgressEvent, error)
}

// OrderBackend reads order state and records progress
type OrderBackend interface {
	OrderReader
	ProgressRecorder
}

// Marketplace is everything the workflow needs from the marketplace backend
type Marketplace interface {
	OrderBackend
	ShipmentStore
	PaymentAPI
	SubmitFinishImages(ctx context.Context, orderID int64, images map[int64][]string) error
	SendFeedback(ctx context.Context, ref domain.OrderRef, userID, content string) error
	CreateReview(ctx context.Context, ref domain.OrderRef, userID string, rating int, content string) error
	RespondToComplaint(ctx context.Context, ref domain.OrderRef, staffID, content string) error
}

// Notifier publishes workflow events without blocking
type Notifier interface {
	Notify(evt events.Event)
}
