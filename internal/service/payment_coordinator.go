package service

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/workflow"
	"github.com/woodmarket/orderflow/pkg/errors"
)

// PaymentCoordinator pays deposits through the wallet or the payment gateway
type PaymentCoordinator struct {
	payments         PaymentAPI
	orders           OrderBackend
	shipments        *ShipmentCoordinator
	inflight         *workflow.InFlight
	defaultReturnURL string
	logger           *zap.Logger
}

// NewPaymentCoordinator creates a new payment coordinator
func NewPaymentCoordinator(payments PaymentAPI, orders OrderBackend, shipments *ShipmentCoordinator, inflight *workflow.InFlight, defaultReturnURL string, logger *zap.Logger) *PaymentCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentCoordinator{
		payments:         payments,
		orders:           orders,
		shipments:        shipments,
		inflight:         inflight,
		defaultReturnURL: defaultReturnURL,
		logger:           logger,
	}
}

// Pay pays deposit depositNumber of the order in state.
//
// state only screens the request. Once the payment slot is held the order is read again and
// the guard re-runs on that copy, then the current step's shipment leg is ensured, and only
// then is money moved. When paying is the step's advance action, the next status is recorded
// after a successful wallet debit. Gateway payments complete out of band; Pay only returns the
// redirect.
func (p *PaymentCoordinator) Pay(ctx context.Context, state *workflow.OrderWorkflowState, actor domain.Actor, depositNumber int, method domain.PaymentMethod, returnURL string) (*PaymentOutcome, error) {
	if !method.IsValid() {
		return nil, &errors.ErrValidation{
			Message: fmt.Sprintf("unknown payment method %q", method),
			Fields:  map[string]string{"method": "must be wallet or gateway"},
		}
	}
	if method == domain.PaymentGateway && returnURL == "" {
		returnURL = p.defaultReturnURL
		if returnURL == "" {
			return nil, &errors.ErrValidation{
				Message: "return_url is required for gateway payments",
				Fields:  map[string]string{"return_url": "required"},
			}
		}
	}

	action := domain.Action{Kind: domain.ActionPayDeposit, DepositNumber: depositNumber}
	if err := workflow.Check(state, actor, action); err != nil {
		return nil, err
	}

	ref := state.Order.Ref()
	ctx, span := tracer.Start(ctx, "PaymentCoordinator.Pay", trace.WithAttributes(
		attribute.String("order.ref", ref.String()),
		attribute.Int("deposit.number", depositNumber),
		attribute.String("payment.method", string(method)),
	))
	defer span.End()

	release, err := p.inflight.Acquire(ref, domain.ActionPayDeposit)
	if err != nil {
		return nil, err
	}
	defer release()

	state, err = loadState(ctx, p.orders, ref)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := workflow.Check(state, actor, action); err != nil {
		return nil, err
	}

	order := state.Order
	outcome := &PaymentOutcome{Method: method, DepositNumber: depositNumber}
	step, _ := state.CurrentStep()
	if step.Leg != "" && !order.Install {
		code, err := p.shipments.EnsureShipment(ctx, &order, state.Shipments, step.Leg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ensure shipment")
			return nil, err
		}
		outcome.CarrierCode = code
	}

	deposit, _ := state.Deposit(depositNumber)

	switch method {
	case domain.PaymentGateway:
		url, err := p.payments.CreateGatewaySession(ctx, ref, deposit, actor.ID, returnURL)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "gateway session")
			return nil, &errors.ErrPaymentFailed{DepositNumber: depositNumber, Message: upstreamMessage(err), Err: err}
		}
		outcome.RedirectURL = url
		return outcome, nil

	default:
		if err := p.payments.PayDepositWallet(ctx, ref, deposit, actor.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "wallet debit")
			return nil, &errors.ErrPaymentFailed{DepositNumber: depositNumber, Message: upstreamMessage(err), Err: err}
		}
		outcome.Paid = true
		p.logger.Info("Deposit paid from wallet",
			zap.String("order", ref.String()), zap.Int("deposit_number", depositNumber))
	}

	if step.Advance != domain.ActionPayDeposit {
		return outcome, nil
	}
	next, ok := state.NextStatus()
	if !ok {
		return outcome, nil
	}
	if err := p.orders.AddProgress(ctx, ref, next, fmt.Sprintf("deposit %d paid", depositNumber)); err != nil {
		// money has moved; report the payment and leave the status for a retry of the progress append
		p.logger.Error("Deposit paid but progress not recorded",
			zap.String("order", ref.String()),
			zap.Int("deposit_number", depositNumber),
			zap.String("next_status", string(next)),
			zap.Error(err))
		return outcome, nil
	}
	outcome.NextStatus = next
	return outcome, nil
}

func upstreamMessage(err error) string {
	var up *errors.ErrUpstream
	if stderrors.As(err, &up) {
		return up.Message
	}
	return ""
}
