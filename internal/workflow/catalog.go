package workflow

import (
	"fmt"

	"github.com/woodmarket/orderflow/internal/domain"
)

// Step is one status on a flow's happy path.
type Step struct {
	Status domain.OrderStatus
	// Advance is the action that moves the order to the next step; empty on the last step.
	Advance domain.ActionKind
	// Leg must have a carrier shipment before Advance runs, unless the order is an install order.
	Leg domain.ShipmentLeg
	// PaymentDue allows paying an outstanding deposit while in this step.
	PaymentDue bool
}

// Flow is the ordered happy path for one order type and service kind.
type Flow struct {
	Name  string
	Steps []Step
}

// Statuses returns the flow's statuses in order
func (f Flow) Statuses() []domain.OrderStatus {
	out := make([]domain.OrderStatus, len(f.Steps))
	for i, s := range f.Steps {
		out[i] = s.Status
	}
	return out
}

// IndexOf returns the position of status in the flow or -1
func (f Flow) IndexOf(status domain.OrderStatus) int {
	for i, s := range f.Steps {
		if s.Status == status {
			return i
		}
	}
	return -1
}

// Next returns the status following status, if any
func (f Flow) Next(status domain.OrderStatus) (domain.OrderStatus, bool) {
	i := f.IndexOf(status)
	if i < 0 || i+1 >= len(f.Steps) {
		return "", false
	}
	return f.Steps[i+1].Status, true
}

var (
	personalizationFlow = Flow{Name: "personalization", Steps: []Step{
		{Status: domain.StatusPending, Advance: domain.ActionConfirmQuote},
		{Status: domain.StatusQuoted, Advance: domain.ActionPayDeposit},
		{Status: domain.StatusDepositPaid, Advance: domain.ActionSubmitDesign},
		{Status: domain.StatusDesignSubmitted, Advance: domain.ActionConfirmDesign},
		{Status: domain.StatusDesignConfirmed, Advance: domain.ActionMarkFinished, Leg: domain.LegDelivery},
		{Status: domain.StatusDelivering, Advance: domain.ActionConfirmReceived, PaymentDue: true},
		{Status: domain.StatusCompleted},
	}}

	customizationFlow = Flow{Name: "customization", Steps: []Step{
		{Status: domain.StatusPending, Advance: domain.ActionConfirmQuote},
		{Status: domain.StatusQuoted, Advance: domain.ActionPayDeposit},
		{Status: domain.StatusDepositPaid, Advance: domain.ActionMarkFinished, Leg: domain.LegDelivery},
		{Status: domain.StatusDelivering, Advance: domain.ActionConfirmReceived, PaymentDue: true},
		{Status: domain.StatusCompleted},
	}}

	saleFlow = Flow{Name: "sale", Steps: []Step{
		{Status: domain.StatusPending, Advance: domain.ActionPayDeposit},
		{Status: domain.StatusDepositPaid, Advance: domain.ActionMarkFinished, Leg: domain.LegDelivery},
		{Status: domain.StatusDelivering, Advance: domain.ActionConfirmReceived, PaymentDue: true},
		{Status: domain.StatusCompleted},
	}}

	warrantyFlow = Flow{Name: "warranty", Steps: []Step{
		{Status: domain.StatusPending, Advance: domain.ActionConfirmQuote, Leg: domain.LegPickup},
		{Status: domain.StatusRepairing, Advance: domain.ActionMarkRepaired, Leg: domain.LegReturn},
		{Status: domain.StatusDelivering, Advance: domain.ActionConfirmReceived},
		{Status: domain.StatusCompleted},
	}}

	repairFlow = Flow{Name: "repair", Steps: []Step{
		{Status: domain.StatusPending, Advance: domain.ActionConfirmQuote},
		{Status: domain.StatusQuoted, Advance: domain.ActionPayDeposit, Leg: domain.LegPickup},
		{Status: domain.StatusRepairing, Advance: domain.ActionMarkRepaired, Leg: domain.LegReturn},
		{Status: domain.StatusDelivering, Advance: domain.ActionConfirmReceived, PaymentDue: true},
		{Status: domain.StatusCompleted},
	}}
)

// StepsFor returns the flow for an order. Unknown combinations yield an empty flow,
// ok=false and a warning describing the combination; it never panics.
func StepsFor(orderType domain.OrderType, serviceName domain.ServiceName, isGuarantee bool) (flow Flow, ok bool, warning string) {
	switch orderType {
	case domain.OrderTypeService:
		switch serviceName {
		case domain.ServicePersonalization:
			return clone(personalizationFlow), true, ""
		case domain.ServiceCustomization:
			return clone(customizationFlow), true, ""
		case domain.ServiceSale:
			return clone(saleFlow), true, ""
		}
	case domain.OrderTypeGuarantee:
		if isGuarantee {
			return clone(warrantyFlow), true, ""
		}
		return clone(repairFlow), true, ""
	}
	return Flow{}, false, fmt.Sprintf("no flow for order type %q and service %q", orderType, serviceName)
}

// FlowFor is StepsFor applied to an order
func FlowFor(order *domain.Order) (Flow, bool, string) {
	return StepsFor(order.Type, order.ServiceName, order.IsGuarantee)
}

func clone(f Flow) Flow {
	steps := make([]Step, len(f.Steps))
	copy(steps, f.Steps)
	return Flow{Name: f.Name, Steps: steps}
}
