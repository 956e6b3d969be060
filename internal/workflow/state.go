package workflow

import (
	"sort"

	"github.com/woodmarket/orderflow/internal/domain"
)

// OrderWorkflowState is an immutable snapshot of one order and its related records,
// built from freshly fetched data. All workflow decisions derive from it.
type OrderWorkflowState struct {
	Order     domain.Order
	Deposits  []domain.Deposit
	Shipments []domain.Shipment
	Events    []domain.ProgressEvent

	flow        Flow
	flowKnown   bool
	flowWarning string
}

// NewState builds the state. Deposits are sorted by deposit number; events keep recorded order.
func NewState(order domain.Order, deposits []domain.Deposit, shipments []domain.Shipment, events []domain.ProgressEvent) *OrderWorkflowState {
	ds := make([]domain.Deposit, len(deposits))
	copy(ds, deposits)
	sort.SliceStable(ds, func(i, j int) bool { return ds[i].DepositNumber < ds[j].DepositNumber })

	ss := make([]domain.Shipment, len(shipments))
	copy(ss, shipments)
	es := make([]domain.ProgressEvent, len(events))
	copy(es, events)

	flow, ok, warning := FlowFor(&order)
	return &OrderWorkflowState{
		Order:       order,
		Deposits:    ds,
		Shipments:   ss,
		Events:      es,
		flow:        flow,
		flowKnown:   ok,
		flowWarning: warning,
	}
}

// Flow returns the order's flow and whether it is known
func (s *OrderWorkflowState) Flow() (Flow, bool) {
	return s.flow, s.flowKnown
}

// FlowWarning is set when the order's type/service combination has no flow
func (s *OrderWorkflowState) FlowWarning() string {
	return s.flowWarning
}

// CurrentStep returns the flow step matching the order status
func (s *OrderWorkflowState) CurrentStep() (Step, bool) {
	i := s.flow.IndexOf(s.Order.Status)
	if i < 0 {
		return Step{}, false
	}
	return s.flow.Steps[i], true
}

// NextStatus returns the status reached when the current step advances
func (s *OrderWorkflowState) NextStatus() (domain.OrderStatus, bool) {
	return s.flow.Next(s.Order.Status)
}

// IsCancelled reports whether the order was cancelled
func (s *OrderWorkflowState) IsCancelled() bool {
	return s.Order.Status == domain.StatusCancelled
}

// Deposit returns the deposit with the given number
func (s *OrderWorkflowState) Deposit(number int) (domain.Deposit, bool) {
	for _, d := range s.Deposits {
		if d.DepositNumber == number {
			return d, true
		}
	}
	return domain.Deposit{}, false
}

// NextPayableDeposit returns the lowest-numbered unpaid deposit
func (s *OrderWorkflowState) NextPayableDeposit() (domain.Deposit, bool) {
	for _, d := range s.Deposits {
		if !d.Paid {
			return d, true
		}
	}
	return domain.Deposit{}, false
}

// AllDepositsPaid reports whether no deposit is outstanding
func (s *OrderWorkflowState) AllDepositsPaid() bool {
	_, outstanding := s.NextPayableDeposit()
	return !outstanding
}

// ShipmentsForLeg returns the shipment rows recorded for a leg
func (s *OrderWorkflowState) ShipmentsForLeg(leg domain.ShipmentLeg) []domain.Shipment {
	return ShipmentsForLeg(s.Shipments, leg)
}

// LegShipped reports whether any shipment of the leg has a real carrier code
func (s *OrderWorkflowState) LegShipped(leg domain.ShipmentLeg) bool {
	_, ok := ExistingCode(s.ShipmentsForLeg(leg))
	return ok
}

// Timeline projects the recorded progress onto the flow
func (s *OrderWorkflowState) Timeline() []TimelineEntry {
	return Project(s.Events, s.flow.Statuses(), s.IsCancelled())
}

// ShipmentsForLeg filters shipments whose ship type resolves to leg
func ShipmentsForLeg(shipments []domain.Shipment, leg domain.ShipmentLeg) []domain.Shipment {
	var out []domain.Shipment
	for _, sh := range shipments {
		if l, ok := sh.Leg(); ok && l == leg {
			out = append(out, sh)
		}
	}
	return out
}

// ExistingCode returns the first real carrier code among shipments
func ExistingCode(shipments []domain.Shipment) (domain.CarrierCode, bool) {
	for _, sh := range shipments {
		if sh.OrderCode.IsSet() {
			return sh.OrderCode, true
		}
	}
	return domain.CarrierCode{}, false
}
