package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/service"
)

// HandleAdvance handles POST /v1/orders/:type/:id/actions/:action
func HandleAdvance(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ref, ok := requestContext(c)
		if !ok {
			return
		}

		name := c.Param("action")
		if name == "cancel" {
			name = string(domain.ActionCancelOrder)
		}
		kind, ok := domain.ParseActionKind(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown action " + c.Param("action")})
			return
		}

		var req service.AdvanceRequest
		if !bindOptionalJSON(c, &req) {
			return
		}

		result, err := svc.Advance(c.Request.Context(), ref, actor, kind, req.Note)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandlePayDeposit handles POST /v1/orders/:type/:id/deposits/:number/pay
func HandlePayDeposit(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ref, ok := requestContext(c)
		if !ok {
			return
		}

		number, err := strconv.Atoi(c.Param("number"))
		if err != nil || number <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deposit number must be a positive integer"})
			return
		}

		var req service.PayRequest
		if !bindJSON(c, &req) {
			return
		}

		result, err := svc.Pay(c.Request.Context(), ref, actor, number, req.Method, req.ReturnURL)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleCreateShipment handles POST /v1/orders/:type/:id/shipments/:leg
func HandleCreateShipment(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ref, ok := requestContext(c)
		if !ok {
			return
		}

		leg, ok := domain.ParseShipmentLeg(c.Param("leg"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "leg must be delivery, pickup or return"})
			return
		}

		result, err := svc.CreateShipment(c.Request.Context(), ref, actor, leg)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleMarkFinished handles POST /v1/orders/:type/:id/finish
func HandleMarkFinished(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ref, ok := requestContext(c)
		if !ok {
			return
		}

		var req service.FinishRequest
		if !bindOptionalJSON(c, &req) {
			return
		}

		result, err := svc.MarkFinished(c.Request.Context(), ref, actor, req.Staged())
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleSendFeedback handles POST /v1/orders/:type/:id/feedback
func HandleSendFeedback(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ref, ok := requestContext(c)
		if !ok {
			return
		}

		var req service.FeedbackRequest
		if !bindJSON(c, &req) {
			return
		}

		result, err := svc.SendFeedback(c.Request.Context(), ref, actor, req.Content)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

// HandleCreateReview handles POST /v1/orders/:type/:id/review
func HandleCreateReview(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ref, ok := requestContext(c)
		if !ok {
			return
		}

		var req service.ReviewRequest
		if !bindJSON(c, &req) {
			return
		}

		result, err := svc.CreateReview(c.Request.Context(), ref, actor, req.Rating, req.Content)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

// HandleRespondToComplaint handles POST /v1/orders/:type/:id/complaint-response
func HandleRespondToComplaint(svc WorkflowAPI, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ref, ok := requestContext(c)
		if !ok {
			return
		}

		var req service.ComplaintResponseRequest
		if !bindJSON(c, &req) {
			return
		}

		result, err := svc.RespondToComplaint(c.Request.Context(), ref, actor, req.Content)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}
