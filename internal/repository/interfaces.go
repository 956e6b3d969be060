package repository

import (
	"context"
	"time"

	"github.com/woodmarket/orderflow/internal/domain"
)

// WorkflowEventRepository defines audit log data access methods
type WorkflowEventRepository interface {
	Create(ctx context.Context, event *domain.WorkflowEvent) error
	ListByOrder(ctx context.Context, ref domain.OrderRef) ([]*domain.WorkflowEvent, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.WorkflowEvent, error)
	// ListShippedOrders returns orders that got a carrier code since the given time
	ListShippedOrders(ctx context.Context, since time.Time) ([]domain.OrderRef, error)
}

// IdempotencyKeyRepository defines idempotency key data access methods.
// GetByKey returns nil, nil when the key is unknown.
type IdempotencyKeyRepository interface {
	GetByKey(ctx context.Context, key string) (*domain.IdempotencyKey, error)
	Create(ctx context.Context, key *domain.IdempotencyKey) error
}

// Repositories aggregates all repositories
type Repositories struct {
	WorkflowEvent  WorkflowEventRepository
	IdempotencyKey IdempotencyKeyRepository
}
