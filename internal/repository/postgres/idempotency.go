package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/pkg/errors"
)

const uniqueViolation = "23505"

type idempotencyKeyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIdempotencyKeyRepository creates a new idempotency key repository
func NewIdempotencyKeyRepository(db *sql.DB, logger *zap.Logger) *idempotencyKeyRepository {
	return &idempotencyKeyRepository{
		db:     db,
		logger: logger,
	}
}

func (r *idempotencyKeyRepository) GetByKey(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	query := `
		SELECT key, actor_id, request_hash, status_code, response_body, created_at
		FROM idempotency_keys
		WHERE key = $1
	`

	var idempotencyKey domain.IdempotencyKey

	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&idempotencyKey.Key,
		&idempotencyKey.ActorID,
		&idempotencyKey.RequestHash,
		&idempotencyKey.StatusCode,
		&idempotencyKey.ResponseBody,
		&idempotencyKey.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get idempotency key", zap.Error(err))
		return nil, err
	}

	return &idempotencyKey, nil
}

// Create stores a completed response. A concurrent insert of the same key is an ErrConflict.
func (r *idempotencyKeyRepository) Create(ctx context.Context, key *domain.IdempotencyKey) error {
	query := `
		INSERT INTO idempotency_keys (key, actor_id, request_hash, status_code, response_body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		key.Key,
		key.ActorID,
		key.RequestHash,
		key.StatusCode,
		key.ResponseBody,
		key.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return &errors.ErrConflict{Message: "idempotency key already stored"}
		}
		r.logger.Error("Failed to create idempotency key", zap.Error(err))
		return err
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
