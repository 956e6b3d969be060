package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/events"
	"github.com/woodmarket/orderflow/internal/repository"
	"github.com/woodmarket/orderflow/internal/workflow"
	"github.com/woodmarket/orderflow/pkg/errors"
)

const auditWriteTimeout = 5 * time.Second

// advanceKinds are the actions whose only effect is a progress append (plus the step's shipment leg)
var advanceKinds = map[domain.ActionKind]bool{
	domain.ActionConfirmQuote:    true,
	domain.ActionSubmitDesign:    true,
	domain.ActionConfirmDesign:   true,
	domain.ActionMarkRepaired:    true,
	domain.ActionConfirmReceived: true,
	domain.ActionCancelOrder:     true,
}

// WorkflowService executes workflow actions against freshly loaded order state
type WorkflowService struct {
	market        Marketplace
	shipments     *ShipmentCoordinator
	payments      *PaymentCoordinator
	inflight      *workflow.InFlight
	audit         repository.WorkflowEventRepository
	notifier      Notifier
	actionTimeout time.Duration
	logger        *zap.Logger
}

// NewWorkflowService creates a new workflow service. audit and notifier may be nil.
func NewWorkflowService(
	market Marketplace,
	shipments *ShipmentCoordinator,
	payments *PaymentCoordinator,
	inflight *workflow.InFlight,
	audit repository.WorkflowEventRepository,
	notifier Notifier,
	actionTimeout time.Duration,
	logger *zap.Logger,
) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if actionTimeout <= 0 {
		actionTimeout = 20 * time.Second
	}
	return &WorkflowService{
		market:        market,
		shipments:     shipments,
		payments:      payments,
		inflight:      inflight,
		audit:         audit,
		notifier:      notifier,
		actionTimeout: actionTimeout,
		logger:        logger,
	}
}

// Load fetches the order's workflow state
func (s *WorkflowService) Load(ctx context.Context, ref domain.OrderRef) (*workflow.OrderWorkflowState, error) {
	if !ref.Type.IsValid() {
		return nil, &errors.ErrValidation{
			Message: fmt.Sprintf("unknown order type %q", ref.Type),
			Fields:  map[string]string{"order_type": "must be service or guarantee"},
		}
	}

	state, err := loadState(ctx, s.market, ref)
	if err != nil {
		return nil, err
	}
	if w := state.FlowWarning(); w != "" {
		s.logger.Warn("Order has no workflow", zap.String("order", ref.String()), zap.String("warning", w))
	}
	return state, nil
}

// View returns the order's workflow as seen by actor
func (s *WorkflowService) View(ctx context.Context, ref domain.OrderRef, actor domain.Actor) (*WorkflowView, error) {
	state, err := s.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return NewWorkflowView(state, actor), nil
}

// Advance runs one of the plain status-moving actions, or cancels the order
func (s *WorkflowService) Advance(ctx context.Context, ref domain.OrderRef, actor domain.Actor, kind domain.ActionKind, note string) (*ActionResult, error) {
	if !advanceKinds[kind] {
		return nil, &errors.ErrValidation{
			Message: fmt.Sprintf("%s cannot be run as a plain action", kind),
			Fields:  map[string]string{"action": "use the action's own endpoint"},
		}
	}
	action := domain.Action{Kind: kind, Role: actor.Role}
	return s.execute(ctx, ref, actor, action, func(ctx context.Context, state *workflow.OrderWorkflowState) (*ActionResult, map[string]interface{}, error) {
		result := &ActionResult{Action: action, FromStatus: state.Order.Status}

		target := domain.StatusCancelled
		if kind != domain.ActionCancelOrder {
			next, ok := state.NextStatus()
			if !ok {
				return nil, nil, &errors.ErrPreconditionFailed{Action: kind, Condition: fmt.Sprintf("status %s is final", state.Order.Status)}
			}
			target = next

			code, err := s.ensureLeg(ctx, state)
			if err != nil {
				return nil, nil, err
			}
			result.CarrierCode = code
		}

		if err := s.market.AddProgress(ctx, ref, target, note); err != nil {
			return nil, nil, fmt.Errorf("failed to record %s: %w", target, err)
		}
		result.ToStatus = &target

		data := map[string]interface{}{}
		if note != "" {
			data["note"] = note
		}
		return result, data, nil
	})
}

// MarkFinished submits staged finish images, ships the delivery leg and moves the order on.
// Every requested product must end up with at least one finish image.
func (s *WorkflowService) MarkFinished(ctx context.Context, ref domain.OrderRef, actor domain.Actor, staged map[int64][]string) (*ActionResult, error) {
	action := domain.Action{Kind: domain.ActionMarkFinished, Role: actor.Role}
	return s.execute(ctx, ref, actor, action, func(ctx context.Context, state *workflow.OrderWorkflowState) (*ActionResult, map[string]interface{}, error) {
		if err := workflow.CheckFinishImages(state.Order.Products, staged); err != nil {
			return nil, nil, err
		}

		images := nonEmptyImages(staged)
		if len(images) > 0 {
			if err := s.market.SubmitFinishImages(ctx, ref.ID, images); err != nil {
				return nil, nil, fmt.Errorf("failed to submit finish images: %w", err)
			}
		}

		result := &ActionResult{Action: action, FromStatus: state.Order.Status}
		code, err := s.ensureLeg(ctx, state)
		if err != nil {
			return nil, nil, err
		}
		result.CarrierCode = code

		next, ok := state.NextStatus()
		if !ok {
			return nil, nil, &errors.ErrPreconditionFailed{Action: action.Kind, Condition: fmt.Sprintf("status %s is final", state.Order.Status)}
		}
		if err := s.market.AddProgress(ctx, ref, next, ""); err != nil {
			return nil, nil, fmt.Errorf("failed to record %s: %w", next, err)
		}
		result.ToStatus = &next

		count := 0
		for _, urls := range images {
			count += len(urls)
		}
		return result, map[string]interface{}{"images": count}, nil
	})
}

// CreateShipment creates the carrier shipment for leg ahead of the step that needs it
func (s *WorkflowService) CreateShipment(ctx context.Context, ref domain.OrderRef, actor domain.Actor, leg domain.ShipmentLeg) (*ActionResult, error) {
	action := domain.Action{Kind: domain.ActionCreateShipment, Role: actor.Role, Leg: leg}
	return s.execute(ctx, ref, actor, action, func(ctx context.Context, state *workflow.OrderWorkflowState) (*ActionResult, map[string]interface{}, error) {
		order := state.Order
		code, err := s.shipments.EnsureShipment(ctx, &order, state.Shipments, leg)
		if err != nil {
			return nil, nil, err
		}
		return &ActionResult{Action: action, FromStatus: order.Status, CarrierCode: code}, nil, nil
	})
}

// Pay pays a deposit through the selected rail
func (s *WorkflowService) Pay(ctx context.Context, ref domain.OrderRef, actor domain.Actor, depositNumber int, method domain.PaymentMethod, returnURL string) (*ActionResult, error) {
	action := domain.Action{Kind: domain.ActionPayDeposit, Role: actor.Role, DepositNumber: depositNumber}
	return s.execute(ctx, ref, actor, action, func(ctx context.Context, state *workflow.OrderWorkflowState) (*ActionResult, map[string]interface{}, error) {
		outcome, err := s.payments.Pay(ctx, state, actor, depositNumber, method, returnURL)
		if err != nil {
			return nil, nil, err
		}
		result := &ActionResult{
			Action:      action,
			FromStatus:  state.Order.Status,
			CarrierCode: outcome.CarrierCode,
			Payment:     outcome,
		}
		if outcome.NextStatus != "" {
			next := outcome.NextStatus
			result.ToStatus = &next
		}
		return result, map[string]interface{}{"method": string(method)}, nil
	})
}

// SendFeedback posts customer feedback on the order
func (s *WorkflowService) SendFeedback(ctx context.Context, ref domain.OrderRef, actor domain.Actor, content string) (*ActionResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &errors.ErrValidation{Message: "feedback content is required", Fields: map[string]string{"content": "required"}}
	}
	action := domain.Action{Kind: domain.ActionSendFeedback, Role: actor.Role}
	return s.execute(ctx, ref, actor, action, func(ctx context.Context, state *workflow.OrderWorkflowState) (*ActionResult, map[string]interface{}, error) {
		if err := s.market.SendFeedback(ctx, ref, actor.ID, content); err != nil {
			return nil, nil, fmt.Errorf("failed to send feedback: %w", err)
		}
		return &ActionResult{Action: action, FromStatus: state.Order.Status}, nil, nil
	})
}

// CreateReview rates a completed order
func (s *WorkflowService) CreateReview(ctx context.Context, ref domain.OrderRef, actor domain.Actor, rating int, content string) (*ActionResult, error) {
	if rating < 1 || rating > 5 {
		return nil, &errors.ErrValidation{Message: "rating must be between 1 and 5", Fields: map[string]string{"rating": "1-5"}}
	}
	action := domain.Action{Kind: domain.ActionCreateReview, Role: actor.Role}
	return s.execute(ctx, ref, actor, action, func(ctx context.Context, state *workflow.OrderWorkflowState) (*ActionResult, map[string]interface{}, error) {
		if err := s.market.CreateReview(ctx, ref, actor.ID, rating, strings.TrimSpace(content)); err != nil {
			return nil, nil, fmt.Errorf("failed to create review: %w", err)
		}
		return &ActionResult{Action: action, FromStatus: state.Order.Status}, map[string]interface{}{"rating": rating}, nil
	})
}

// RespondToComplaint answers the order's open complaint
func (s *WorkflowService) RespondToComplaint(ctx context.Context, ref domain.OrderRef, actor domain.Actor, content string) (*ActionResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &errors.ErrValidation{Message: "response content is required", Fields: map[string]string{"content": "required"}}
	}
	action := domain.Action{Kind: domain.ActionRespondToComplaint, Role: actor.Role}
	return s.execute(ctx, ref, actor, action, func(ctx context.Context, state *workflow.OrderWorkflowState) (*ActionResult, map[string]interface{}, error) {
		if err := s.market.RespondToComplaint(ctx, ref, actor.ID, content); err != nil {
			return nil, nil, fmt.Errorf("failed to respond to complaint: %w", err)
		}
		return &ActionResult{Action: action, FromStatus: state.Order.Status}, nil, nil
	})
}

// Tracking polls the carrier for every shipment of the order that has a carrier code
func (s *WorkflowService) Tracking(ctx context.Context, ref domain.OrderRef) ([]domain.TrackingSnapshot, error) {
	shipments, err := s.market.ListShipments(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.shipments.RefreshTracking(ctx, shipments), nil
}

// Audit returns the order's recorded workflow actions, oldest first
func (s *WorkflowService) Audit(ctx context.Context, ref domain.OrderRef) ([]*domain.WorkflowEvent, error) {
	if s.audit == nil {
		return []*domain.WorkflowEvent{}, nil
	}
	return s.audit.ListByOrder(ctx, ref)
}

type actionFunc func(ctx context.Context, state *workflow.OrderWorkflowState) (*ActionResult, map[string]interface{}, error)

// execute claims the in-flight slot, loads fresh state, checks the guard and runs fn under
// the action timeout. Executed attempts are audited; rejections are not.
func (s *WorkflowService) execute(ctx context.Context, ref domain.OrderRef, actor domain.Actor, action domain.Action, fn actionFunc) (*ActionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.actionTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "WorkflowService.Execute", trace.WithAttributes(
		attribute.String("order.ref", ref.String()),
		attribute.String("workflow.action", action.String()),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer span.End()

	// the coordinators own the slots for payments and carrier creation and re-read state inside them
	if action.Kind != domain.ActionPayDeposit && action.Kind != domain.ActionCreateShipment {
		release, err := s.inflight.Acquire(ref, action.Kind)
		if err != nil {
			s.logger.Info("Workflow action rejected",
				zap.String("order", ref.String()), zap.String("action", action.String()), zap.Error(err))
			return nil, err
		}
		defer release()
	}

	state, err := s.Load(ctx, ref)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := workflow.Check(state, actor, action); err != nil {
		s.logger.Info("Workflow action rejected",
			zap.String("order", ref.String()), zap.String("action", action.String()), zap.Error(err))
		return nil, err
	}

	result, data, err := fn(ctx, state)
	if err != nil && isRejection(err) {
		s.logger.Info("Workflow action rejected",
			zap.String("order", ref.String()), zap.String("action", action.String()), zap.Error(err))
		return nil, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "action failed")
		s.logger.Warn("Workflow action failed",
			zap.String("order", ref.String()), zap.String("action", action.String()), zap.Error(err))
	}

	s.record(ctx, state, actor, action, result, data, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *WorkflowService) record(ctx context.Context, state *workflow.OrderWorkflowState, actor domain.Actor, action domain.Action, result *ActionResult, data map[string]interface{}, actionErr error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if action.DepositNumber > 0 {
		data["deposit_number"] = action.DepositNumber
	}
	if action.Leg != "" {
		data["leg"] = string(action.Leg)
	}

	evt := &domain.WorkflowEvent{
		ID:         uuid.New(),
		OrderType:  state.Order.Type,
		OrderID:    state.Order.ID,
		ActorRole:  actor.Role,
		ActorID:    actor.ID,
		Action:     action.Kind,
		FromStatus: state.Order.Status,
		Outcome:    domain.OutcomeSucceeded,
		EventData:  data,
		CreatedAt:  time.Now().UTC(),
	}
	if result != nil {
		evt.ToStatus = result.ToStatus
		if code, ok := result.CarrierCode.Get(); ok {
			data["carrier_code"] = code
		}
		if result.Payment != nil && !result.Payment.Paid {
			evt.Outcome = domain.OutcomePending
		}
	}
	if actionErr != nil {
		evt.Outcome = domain.OutcomeFailed
		data["error"] = actionErr.Error()
	}

	if s.audit != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
		defer cancel()
		if err := s.audit.Create(actx, evt); err != nil {
			s.logger.Error("Failed to write workflow audit event",
				zap.String("order", state.Order.Ref().String()), zap.String("action", action.String()), zap.Error(err))
		}
	}
	if s.notifier != nil && actionErr == nil {
		s.notifier.Notify(events.FromWorkflowEvent(evt))
	}
}

// ensureLeg creates the current step's shipment when the step has a leg and the order is not an install order
func (s *WorkflowService) ensureLeg(ctx context.Context, state *workflow.OrderWorkflowState) (domain.CarrierCode, error) {
	step, ok := state.CurrentStep()
	if !ok || step.Leg == "" || state.Order.Install {
		return domain.CarrierCode{}, nil
	}
	order := state.Order
	return s.shipments.EnsureShipment(ctx, &order, state.Shipments, step.Leg)
}

// loadState fetches the order and its deposits, shipments and progress concurrently
func loadState(ctx context.Context, reader OrderReader, ref domain.OrderRef) (*workflow.OrderWorkflowState, error) {
	var (
		order     *domain.Order
		deposits  []domain.Deposit
		shipments []domain.Shipment
		progress  []domain.ProgressEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		order, err = reader.GetOrder(gctx, ref)
		return err
	})
	g.Go(func() (err error) {
		deposits, err = reader.ListDeposits(gctx, ref)
		return err
	})
	g.Go(func() (err error) {
		shipments, err = reader.ListShipments(gctx, ref)
		return err
	})
	g.Go(func() (err error) {
		progress, err = reader.ListProgress(gctx, ref)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return workflow.NewState(*order, deposits, shipments, progress), nil
}

func isRejection(err error) bool {
	var (
		pre *errors.ErrPreconditionFailed
		val *errors.ErrValidation
		inf *errors.ErrActionInFlight
	)
	return stderrors.As(err, &pre) || stderrors.As(err, &val) || stderrors.As(err, &inf)
}

func nonEmptyImages(staged map[int64][]string) map[int64][]string {
	out := make(map[int64][]string, len(staged))
	for id, urls := range staged {
		for _, u := range urls {
			if u = strings.TrimSpace(u); u != "" {
				out[id] = append(out[id], u)
			}
		}
	}
	return out
}
