package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/events"
	"github.com/woodmarket/orderflow/internal/repository"
)

// TrackingRefresher periodically polls the carrier for recently shipped orders and
// publishes an event whenever a shipment's carrier status changes.
type TrackingRefresher struct {
	store     ShipmentStore
	shipments *ShipmentCoordinator
	audit     repository.WorkflowEventRepository
	notifier  Notifier
	lookback  time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	last map[string]lastStatus // by carrier order code
}

type lastStatus struct {
	ref    domain.OrderRef
	status string
}

// NewTrackingRefresher creates a refresher over orders shipped within lookback
func NewTrackingRefresher(store ShipmentStore, shipments *ShipmentCoordinator, audit repository.WorkflowEventRepository, notifier Notifier, lookback time.Duration, logger *zap.Logger) *TrackingRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingRefresher{
		store:     store,
		shipments: shipments,
		audit:     audit,
		notifier:  notifier,
		lookback:  lookback,
		logger:    logger,
		last:      make(map[string]lastStatus),
	}
}

// RunOnce refreshes every recently shipped order. Errors are logged per order.
// Codes of orders that left the lookback window are forgotten.
func (r *TrackingRefresher) RunOnce(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	refs, err := r.audit.ListShippedOrders(ctx, time.Now().Add(-r.lookback))
	if err != nil {
		r.logger.Error("Tracking refresh: failed to list shipped orders", zap.Error(err))
		return
	}
	if len(refs) == 0 {
		clear(r.last)
		r.logger.Debug("Tracking refresh: no shipped orders in lookback window")
		return
	}

	active := make(map[domain.OrderRef]bool, len(refs))
	unlisted := make(map[domain.OrderRef]bool)
	listed := make(map[string]bool)
	changed := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		active[ref] = true
		shipments, err := r.store.ListShipments(ctx, ref)
		if err != nil {
			unlisted[ref] = true
			r.logger.Warn("Tracking refresh: failed to list shipments", zap.String("order", ref.String()), zap.Error(err))
			continue
		}
		for _, sh := range shipments {
			if code, ok := sh.OrderCode.Get(); ok {
				listed[code] = true
			}
		}
		for _, snap := range r.shipments.RefreshTracking(ctx, shipments) {
			prev, seen := r.last[snap.OrderCode]
			if seen && prev.status == snap.Status {
				continue
			}
			r.last[snap.OrderCode] = lastStatus{ref: ref, status: snap.Status}
			changed++
			if r.notifier != nil {
				r.notifier.Notify(events.TrackingChanged(ref, snap, prev.status))
			}
		}
	}

	evicted := 0
	for code, l := range r.last {
		// an order whose shipments could not be listed keeps its codes
		if !active[l.ref] || (!unlisted[l.ref] && !listed[code]) {
			delete(r.last, code)
			evicted++
		}
	}
	r.logger.Info("Tracking refresh: done",
		zap.Int("orders", len(refs)), zap.Int("changed", changed), zap.Int("forgotten", evicted))
}

// Run refreshes once, then every interval until ctx is done. Call from a goroutine.
func (r *TrackingRefresher) Run(ctx context.Context, interval time.Duration) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// LastStatus returns the last published carrier status for an order code
func (r *TrackingRefresher) LastStatus(orderCode string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.last[orderCode]
	return l.status, ok
}

