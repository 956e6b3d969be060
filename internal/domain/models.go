package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderRef identifies an order across both order families
type OrderRef struct {
	Type OrderType
	ID   int64
}

func (r OrderRef) String() string {
	return fmt.Sprintf("%s-%d", r.Type, r.ID)
}

// Order is the client-side projection of a service or guarantee order
type Order struct {
	ID              int64
	Type            OrderType
	Status          OrderStatus
	ServiceName     ServiceName
	Install         bool
	IsGuarantee     bool // guarantee orders only: warranty claim vs paid repair
	TotalAmount     decimal.Decimal
	AmountPaid      decimal.Decimal
	AmountRemaining decimal.Decimal
	CustomerAddress string
	WorkshopAddress string
	Products        []RequestedProduct
	HasReview       bool
	ComplaintOpen   bool
	CreatedAt       time.Time
}

// Ref returns the order's cross-family reference
func (o *Order) Ref() OrderRef {
	return OrderRef{Type: o.Type, ID: o.ID}
}

// RequestedProduct is one product the customer asked the woodworker to build
type RequestedProduct struct {
	ID           int64
	Name         string
	Quantity     int
	FinishImages []string
}

// Deposit is a sequenced payment installment against an order
type Deposit struct {
	ID            int64
	OrderID       int64
	DepositNumber int
	Percent       decimal.Decimal
	Amount        decimal.Decimal
	Paid          bool
	CreatedAt     time.Time
	PaidAt        *time.Time
}

// Shipment is one carrier leg recorded by the backend for an order
type Shipment struct {
	ID          int64
	OrderID     int64
	ShipType    string
	FromAddress string
	ToAddress   string
	OrderCode   CarrierCode
}

// Leg resolves the free-text ship type into a leg
func (s *Shipment) Leg() (ShipmentLeg, bool) {
	return ParseShipmentLeg(s.ShipType)
}

// ProgressEvent records that an order reached a status. Append-only.
type ProgressEvent struct {
	Status      OrderStatus
	CreatedTime time.Time
}

// TrackingSnapshot is the last polled carrier state for one order code. Not persisted.
type TrackingSnapshot struct {
	OrderCode string    `json:"order_code"`
	ShipType  string    `json:"ship_type"`
	Status    string    `json:"status"`
	Leadtime  time.Time `json:"leadtime,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Actor is who is performing an action
type Actor struct {
	Role Role
	ID   string
}

// Action is one permitted workflow action instance
type Action struct {
	Kind          ActionKind  `json:"kind"`
	Role          Role        `json:"role"`
	DepositNumber int         `json:"deposit_number,omitempty"`
	Leg           ShipmentLeg `json:"leg,omitempty"`
}

func (a Action) String() string {
	switch {
	case a.DepositNumber > 0:
		return fmt.Sprintf("%s(%d)", a.Kind, a.DepositNumber)
	case a.Leg != "":
		return fmt.Sprintf("%s(%s)", a.Kind, a.Leg)
	default:
		return string(a.Kind)
	}
}

// WorkflowEvent is an audit record of an executed (or failed) workflow action
type WorkflowEvent struct {
	ID         uuid.UUID
	OrderType  OrderType
	OrderID    int64
	ActorRole  Role
	ActorID    string
	Action     ActionKind
	FromStatus OrderStatus
	ToStatus   *OrderStatus
	Outcome    string
	EventData  map[string]interface{} // JSONB
	CreatedAt  time.Time
}

// Audit outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomePending   = "pending"
)

// IdempotencyKey stores a replayable response for a mutating request
type IdempotencyKey struct {
	Key          string
	ActorID      string
	RequestHash  string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
}
