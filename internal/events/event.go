package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/woodmarket/orderflow/internal/domain"
)

// Event kinds
const (
	KindAction   = "workflow.action"
	KindTracking = "workflow.tracking"
)

// Event is the wire shape published for every executed action and tracking change
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Kind       string                 `json:"kind"`
	OrderType  domain.OrderType       `json:"order_type"`
	OrderID    int64                  `json:"order_id"`
	Action     domain.ActionKind      `json:"action,omitempty"`
	ActorRole  domain.Role            `json:"actor_role,omitempty"`
	ActorID    string                 `json:"actor_id,omitempty"`
	FromStatus domain.OrderStatus     `json:"from_status,omitempty"`
	ToStatus   *domain.OrderStatus    `json:"to_status,omitempty"`
	Outcome    string                 `json:"outcome,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// FromWorkflowEvent builds the published form of an audit record
func FromWorkflowEvent(e *domain.WorkflowEvent) Event {
	return Event{
		ID:         e.ID,
		Kind:       KindAction,
		OrderType:  e.OrderType,
		OrderID:    e.OrderID,
		Action:     e.Action,
		ActorRole:  e.ActorRole,
		ActorID:    e.ActorID,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Outcome:    e.Outcome,
		Data:       e.EventData,
		OccurredAt: e.CreatedAt,
	}
}

// TrackingChanged builds the event sent when a carrier status moves
func TrackingChanged(ref domain.OrderRef, snap domain.TrackingSnapshot, previous string) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      KindTracking,
		OrderType: ref.Type,
		OrderID:   ref.ID,
		Data: map[string]interface{}{
			"order_code":      snap.OrderCode,
			"ship_type":       snap.ShipType,
			"status":          snap.Status,
			"previous_status": previous,
			"leadtime":        snap.Leadtime,
		},
		OccurredAt: snap.CheckedAt,
	}
}

// Publisher delivers events to one sink
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
