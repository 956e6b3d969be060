package postgres

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/repository"
)

// NewRepositories creates a new set of repositories
func NewRepositories(db *sql.DB, logger *zap.Logger) *repository.Repositories {
	return &repository.Repositories{
		WorkflowEvent:  NewWorkflowEventRepository(db, logger),
		IdempotencyKey: NewIdempotencyKeyRepository(db, logger),
	}
}
