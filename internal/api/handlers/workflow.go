package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
)

// HandleGetWorkflow handles GET /v1/orders/:type/:id/workflow
func HandleGetWorkflow(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ref, ok := requestContext(c)
		if !ok {
			return
		}

		view, err := svc.View(c.Request.Context(), ref, actor)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// HandleGetTracking handles GET /v1/orders/:type/:id/tracking
func HandleGetTracking(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, ref, ok := requestContext(c)
		if !ok {
			return
		}

		snaps, err := svc.Tracking(c.Request.Context(), ref)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"shipments": snaps})
	}
}

// AuditEntryResponse is one row of the local audit log
type AuditEntryResponse struct {
	ID         string                 `json:"id"`
	Action     domain.ActionKind      `json:"action"`
	ActorRole  domain.Role            `json:"actor_role"`
	ActorID    string                 `json:"actor_id"`
	FromStatus domain.OrderStatus     `json:"from_status"`
	ToStatus   *domain.OrderStatus    `json:"to_status,omitempty"`
	Outcome    string                 `json:"outcome"`
	Data       map[string]interface{} `json:"data,omitempty"`
	CreatedAt  string                 `json:"created_at"`
}

// HandleGetAudit handles GET /v1/orders/:type/:id/audit. Staff and admins only.
func HandleGetAudit(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ref, ok := requestContext(c)
		if !ok {
			return
		}
		if actor.Role != domain.RoleStaff && actor.Role != domain.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}

		entries, err := svc.Audit(c.Request.Context(), ref)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		resp := make([]AuditEntryResponse, len(entries))
		for i, e := range entries {
			resp[i] = AuditEntryResponse{
				ID:         e.ID.String(),
				Action:     e.Action,
				ActorRole:  e.ActorRole,
				ActorID:    e.ActorID,
				FromStatus: e.FromStatus,
				ToStatus:   e.ToStatus,
				Outcome:    e.Outcome,
				Data:       e.EventData,
				CreatedAt:  e.CreatedAt.Format(time.RFC3339),
			}
		}
		c.JSON(http.StatusOK, gin.H{"events": resp})
	}
}
