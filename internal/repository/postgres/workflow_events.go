package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
)

const workflowEventColumns = `id, order_type, order_id, actor_role, actor_id, action, from_status, to_status, outcome, event_data, created_at`

type workflowEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowEventRepository creates a new workflow audit repository
func NewWorkflowEventRepository(db *sql.DB, logger *zap.Logger) *workflowEventRepository {
	return &workflowEventRepository{
		db:     db,
		logger: logger,
	}
}

func (r *workflowEventRepository) Create(ctx context.Context, event *domain.WorkflowEvent) error {
	query := `
		INSERT INTO workflow_events (` + workflowEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var eventDataJSON []byte
	var err error
	if event.EventData != nil {
		eventDataJSON, err = json.Marshal(event.EventData)
		if err != nil {
			return err
		}
	}

	var toStatus sql.NullString
	if event.ToStatus != nil {
		toStatus = sql.NullString{String: string(*event.ToStatus), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.OrderType,
		event.OrderID,
		event.ActorRole,
		event.ActorID,
		event.Action,
		event.FromStatus,
		toStatus,
		event.Outcome,
		eventDataJSON,
		event.CreatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create workflow event", zap.Error(err), zap.String("action", string(event.Action)))
		return err
	}

	return nil
}

func (r *workflowEventRepository) ListByOrder(ctx context.Context, ref domain.OrderRef) ([]*domain.WorkflowEvent, error) {
	query := `
		SELECT ` + workflowEventColumns + `
		FROM workflow_events
		WHERE order_type = $1 AND order_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, ref.Type, ref.ID)
	if err != nil {
		r.logger.Error("Failed to get workflow events by order", zap.Error(err), zap.String("order", ref.String()))
		return nil, err
	}
	defer rows.Close()

	return scanWorkflowEvents(rows)
}

func (r *workflowEventRepository) ListRecent(ctx context.Context, limit int) ([]*domain.WorkflowEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + workflowEventColumns + `
		FROM workflow_events
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list recent workflow events", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanWorkflowEvents(rows)
}

// ListShippedOrders includes pending gateway payments, whose shipment leg is created before the redirect
func (r *workflowEventRepository) ListShippedOrders(ctx context.Context, since time.Time) ([]domain.OrderRef, error) {
	query := `
		SELECT order_type, order_id
		FROM workflow_events
		WHERE created_at >= $1
		  AND outcome IN ($2, $3)
		  AND event_data->>'carrier_code' IS NOT NULL
		GROUP BY order_type, order_id
		ORDER BY MAX(created_at) DESC
	`

	rows, err := r.db.QueryContext(ctx, query, since, domain.OutcomeSucceeded, domain.OutcomePending)
	if err != nil {
		r.logger.Error("Failed to list shipped orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var refs []domain.OrderRef
	for rows.Next() {
		var ref domain.OrderRef
		if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func scanWorkflowEvents(rows *sql.Rows) ([]*domain.WorkflowEvent, error) {
	var events []*domain.WorkflowEvent
	for rows.Next() {
		var event domain.WorkflowEvent
		var toStatus sql.NullString
		var eventDataJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.OrderType,
			&event.OrderID,
			&event.ActorRole,
			&event.ActorID,
			&event.Action,
			&event.FromStatus,
			&toStatus,
			&event.Outcome,
			&eventDataJSON,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if toStatus.Valid {
			s := domain.OrderStatus(toStatus.String)
			event.ToStatus = &s
		}
		if len(eventDataJSON) > 0 {
			if err := json.Unmarshal(eventDataJSON, &event.EventData); err != nil {
				return nil, err
			}
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}
