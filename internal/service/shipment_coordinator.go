package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woodmarket/orderflow/internal/carrier"
	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/workflow"
	"github.com/woodmarket/orderflow/pkg/errors"
)

// TrackingOptions bounds carrier tracking polls
type TrackingOptions struct {
	Concurrency     int
	PollTimeout     time.Duration
	MaxRetries      int
	InitialInterval time.Duration
}

func (o TrackingOptions) withDefaults() TrackingOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 15 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 250 * time.Millisecond
	}
	return o
}

// ShipmentCoordinator creates carrier shipments for flow legs and polls their tracking
type ShipmentCoordinator struct {
	carrier  Carrier
	store    ShipmentStore
	inflight *workflow.InFlight
	opts     TrackingOptions
	logger   *zap.Logger
}

// NewShipmentCoordinator creates a new shipment coordinator
func NewShipmentCoordinator(c Carrier, store ShipmentStore, inflight *workflow.InFlight, opts TrackingOptions, logger *zap.Logger) *ShipmentCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShipmentCoordinator{
		carrier:  c,
		store:    store,
		inflight: inflight,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// EnsureShipment returns the carrier code for leg, creating the carrier shipment first when
// none exists. Creation is serialized per order: a concurrent call fails with ErrActionInFlight
// and the rows are re-read inside the slot, so the carrier is called at most once per leg.
func (s *ShipmentCoordinator) EnsureShipment(ctx context.Context, order *domain.Order, shipments []domain.Shipment, leg domain.ShipmentLeg) (domain.CarrierCode, error) {
	if code, ok := workflow.ExistingCode(workflow.ShipmentsForLeg(shipments, leg)); ok {
		return code, nil
	}

	ref := order.Ref()
	ctx, span := tracer.Start(ctx, "ShipmentCoordinator.EnsureShipment", trace.WithAttributes(
		attribute.String("order.ref", ref.String()),
		attribute.String("shipment.leg", string(leg)),
	))
	defer span.End()

	release, err := s.inflight.Acquire(ref, domain.ActionCreateShipment)
	if err != nil {
		return domain.CarrierCode{}, err
	}
	defer release()

	fresh, err := s.store.ListShipments(ctx, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload shipments")
		return domain.CarrierCode{}, &errors.ErrShipping{Leg: leg, Message: "could not reload shipments", Err: err}
	}
	rows := workflow.ShipmentsForLeg(fresh, leg)
	if code, ok := workflow.ExistingCode(rows); ok {
		return code, nil
	}
	if len(rows) == 0 {
		return domain.CarrierCode{}, &errors.ErrShipping{Leg: leg, Message: fmt.Sprintf("no %s shipment record exists for order %s", leg, ref)}
	}
	row := rows[0]

	raw, err := s.carrier.CreateShipment(ctx, buildCreateRequest(order, row, leg))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "carrier create")
		s.logger.Warn("Carrier shipment creation failed",
			zap.String("order", ref.String()), zap.String("leg", string(leg)), zap.Error(err))
		return domain.CarrierCode{}, &errors.ErrShipping{Leg: leg, Message: carrierMessage(err), Err: err}
	}
	code := domain.ParseCarrierCode(raw)
	if !code.IsSet() {
		return domain.CarrierCode{}, &errors.ErrShipping{Leg: leg, Message: fmt.Sprintf("carrier returned unusable order code %q", raw)}
	}

	if err := s.store.UpdateShipmentOrderCode(ctx, ref, row.ID, code.String()); err != nil {
		// the carrier shipment exists now; the code must not get lost
		s.logger.Error("Carrier shipment created but order code not saved",
			zap.String("order", ref.String()),
			zap.Int64("shipment_id", row.ID),
			zap.String("order_code", code.String()),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "save order code")
		return domain.CarrierCode{}, &errors.ErrShipping{Leg: leg, Message: "carrier order code " + code.String() + " could not be saved", Err: err}
	}

	s.logger.Info("Carrier shipment created",
		zap.String("order", ref.String()), zap.String("leg", string(leg)), zap.String("order_code", code.String()))
	span.SetAttributes(attribute.String("carrier.order_code", code.String()))
	return code, nil
}

// RefreshTracking polls every shipment with a carrier code. Polls run concurrently up to the
// configured limit; a failed poll is logged and skipped, so the result may be shorter than the input.
func (s *ShipmentCoordinator) RefreshTracking(ctx context.Context, shipments []domain.Shipment) []domain.TrackingSnapshot {
	ctx, span := tracer.Start(ctx, "ShipmentCoordinator.RefreshTracking")
	defer span.End()

	type target struct {
		code     string
		shipType string
	}
	seen := make(map[string]bool, len(shipments))
	var targets []target
	for _, sh := range shipments {
		code, ok := sh.OrderCode.Get()
		if !ok || seen[code] {
			continue
		}
		seen[code] = true
		targets = append(targets, target{code: code, shipType: sh.ShipType})
	}
	span.SetAttributes(attribute.Int("tracking.targets", len(targets)))

	results := make([]*domain.TrackingSnapshot, len(targets))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			snap, err := s.poll(ctx, t.code)
			if err != nil {
				s.logger.Warn("Tracking unavailable, skipping shipment", zap.String("order_code", t.code), zap.Error(err))
				return nil
			}
			snap.ShipType = t.shipType
			results[i] = snap
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.TrackingSnapshot, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (s *ShipmentCoordinator) poll(ctx context.Context, code string) (*domain.TrackingSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PollTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval

	var tr *carrier.Tracking
	op := func() error {
		var err error
		tr, err = s.carrier.Track(ctx, code)
		if err == nil {
			return nil
		}
		var apiErr *carrier.APIError
		if stderrors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, &errors.ErrTrackingUnavailable{OrderCode: code, Err: err}
	}
	return &domain.TrackingSnapshot{
		OrderCode: code,
		Status:    tr.Status,
		Leadtime:  tr.Leadtime,
		CheckedAt: time.Now().UTC(),
	}, nil
}

// buildCreateRequest fills addresses missing on the row from the order, in the leg's direction
func buildCreateRequest(order *domain.Order, row domain.Shipment, leg domain.ShipmentLeg) carrier.CreateRequest {
	from, to := order.WorkshopAddress, order.CustomerAddress
	if leg == domain.LegPickup {
		from, to = order.CustomerAddress, order.WorkshopAddress
	}
	if row.FromAddress != "" {
		from = row.FromAddress
	}
	if row.ToAddress != "" {
		to = row.ToAddress
	}

	items := make([]carrier.Item, 0, len(order.Products))
	for _, p := range order.Products {
		qty := p.Quantity
		if qty < 1 {
			qty = 1
		}
		items = append(items, carrier.Item{Name: p.Name, Quantity: qty})
	}
	if len(items) == 0 {
		items = append(items, carrier.Item{Name: "Order " + order.Ref().String(), Quantity: 1})
	}

	return carrier.CreateRequest{
		ClientOrderCode: fmt.Sprintf("%s-%s", order.Ref(), leg),
		FromAddress:     from,
		ToAddress:       to,
		Items:           items,
		Note:            string(leg) + " leg",
	}
}

func carrierMessage(err error) string {
	var apiErr *carrier.APIError
	if stderrors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return ""
}
