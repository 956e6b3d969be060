package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/api/middleware"
	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/service"
	"github.com/woodmarket/orderflow/pkg/errors"
)

// WorkflowAPI is the part of the workflow service the HTTP layer calls
type WorkflowAPI interface {
	View(ctx context.Context, ref domain.OrderRef, actor domain.Actor) (*service.WorkflowView, error)
	Tracking(ctx context.Context, ref domain.OrderRef) ([]domain.TrackingSnapshot, error)
	Audit(ctx context.Context, ref domain.OrderRef) ([]*domain.WorkflowEvent, error)
	Advance(ctx context.Context, ref domain.OrderRef, actor domain.Actor, kind domain.ActionKind, note string) (*service.ActionResult, error)
	MarkFinished(ctx context.Context, ref domain.OrderRef, actor domain.Actor, staged map[int64][]string) (*service.ActionResult, error)
	CreateShipment(ctx context.Context, ref domain.OrderRef, actor domain.Actor, leg domain.ShipmentLeg) (*service.ActionResult, error)
	Pay(ctx context.Context, ref domain.OrderRef, actor domain.Actor, depositNumber int, method domain.PaymentMethod, returnURL string) (*service.ActionResult, error)
	SendFeedback(ctx context.Context, ref domain.OrderRef, actor domain.Actor, content string) (*service.ActionResult, error)
	CreateReview(ctx context.Context, ref domain.OrderRef, actor domain.Actor, rating int, content string) (*service.ActionResult, error)
	RespondToComplaint(ctx context.Context, ref domain.OrderRef, actor domain.Actor, content string) (*service.ActionResult, error)
}

// requestContext extracts the actor and the order reference; it writes the error response itself
func requestContext(c *gin.Context) (domain.Actor, domain.OrderRef, bool) {
	actor, ok := middleware.GetActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return domain.Actor{}, domain.OrderRef{}, false
	}

	orderType := domain.OrderType(c.Param("type"))
	if !orderType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order type must be service or guarantee"})
		return domain.Actor{}, domain.OrderRef{}, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be a positive integer"})
		return domain.Actor{}, domain.OrderRef{}, false
	}
	return actor, domain.OrderRef{Type: orderType, ID: id}, true
}

// respondError maps service errors to HTTP responses
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		validation   *errors.ErrValidation
		notFound     *errors.ErrNotFound
		precondition *errors.ErrPreconditionFailed
		inFlight     *errors.ErrActionInFlight
		conflict     *errors.ErrConflict
		payment      *errors.ErrPaymentFailed
		shipping     *errors.ErrShipping
		upstream     *errors.ErrUpstream
	)

	switch {
	case stderrors.As(err, &validation):
		resp := gin.H{"error": validation.Error()}
		if len(validation.Fields) > 0 {
			resp["fields"] = validation.Fields
		}
		c.JSON(http.StatusBadRequest, resp)
	case stderrors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case stderrors.As(err, &precondition):
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"error":     precondition.Error(),
			"action":    precondition.Action,
			"condition": precondition.Condition,
		})
	case stderrors.As(err, &inFlight):
		c.JSON(http.StatusConflict, gin.H{"error": inFlight.Error(), "action": inFlight.Action})
	case stderrors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case stderrors.As(err, &payment):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":          payment.Error(),
			"deposit_number": payment.DepositNumber,
			"message":        payment.Message,
		})
	case stderrors.As(err, &shipping):
		logger.Warn("Shipment step failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   shipping.Error(),
			"leg":     shipping.Leg,
			"message": shipping.Message,
		})
	case stderrors.As(err, &upstream):
		logger.Warn("Marketplace call failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": upstream.Error()})
	case stderrors.Is(err, context.DeadlineExceeded):
		logger.Warn("Workflow action timed out", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "action timed out"})
	default:
		logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindOptionalJSON binds the body when one was sent
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return false
	}
	return true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return false
	}
	return true
}
