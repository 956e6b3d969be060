package workflow

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/pkg/errors"
)

var fixedRoles = map[domain.ActionKind]domain.Role{
	domain.ActionPayDeposit:         domain.RoleCustomer,
	domain.ActionConfirmDesign:      domain.RoleCustomer,
	domain.ActionConfirmReceived:    domain.RoleCustomer,
	domain.ActionSendFeedback:       domain.RoleCustomer,
	domain.ActionCreateReview:       domain.RoleCustomer,
	domain.ActionConfirmQuote:       domain.RoleWoodworker,
	domain.ActionSubmitDesign:       domain.RoleWoodworker,
	domain.ActionMarkFinished:       domain.RoleWoodworker,
	domain.ActionMarkRepaired:       domain.RoleWoodworker,
	domain.ActionRespondToComplaint: domain.RoleStaff,
	domain.ActionCancelOrder:        domain.RoleStaff,
}

// RoleOf returns the only role allowed to perform the action on this order.
// CreateShipment belongs to whoever owns the current step's advance action.
func RoleOf(state *OrderWorkflowState, kind domain.ActionKind) (domain.Role, bool) {
	if kind == domain.ActionCreateShipment {
		step, ok := state.CurrentStep()
		if !ok || step.Advance == "" {
			return "", false
		}
		role, ok := fixedRoles[step.Advance]
		return role, ok
	}
	role, ok := fixedRoles[kind]
	return role, ok
}

// PermittedActions lists the actions the actor may perform right now.
// It never returns an action whose role differs from the actor's.
func PermittedActions(state *OrderWorkflowState, actor domain.Actor) []domain.Action {
	var candidates []domain.Action
	if d, ok := state.NextPayableDeposit(); ok {
		candidates = append(candidates, domain.Action{Kind: domain.ActionPayDeposit, DepositNumber: d.DepositNumber})
	}
	if step, ok := state.CurrentStep(); ok {
		if step.Leg != "" {
			candidates = append(candidates, domain.Action{Kind: domain.ActionCreateShipment, Leg: step.Leg})
		}
		if step.Advance != "" && step.Advance != domain.ActionPayDeposit {
			candidates = append(candidates, domain.Action{Kind: step.Advance})
		}
	}
	candidates = append(candidates,
		domain.Action{Kind: domain.ActionSendFeedback},
		domain.Action{Kind: domain.ActionCreateReview},
		domain.Action{Kind: domain.ActionRespondToComplaint},
		domain.Action{Kind: domain.ActionCancelOrder},
	)

	permitted := make([]domain.Action, 0, len(candidates))
	for _, a := range candidates {
		role, ok := RoleOf(state, a.Kind)
		if !ok || role != actor.Role {
			continue
		}
		if unmet(state, a) != "" {
			continue
		}
		a.Role = role
		permitted = append(permitted, a)
	}
	return permitted
}

// Check verifies that the actor may perform the action on the given state.
// Run it again on freshly fetched state right before executing.
func Check(state *OrderWorkflowState, actor domain.Actor, action domain.Action) error {
	role, ok := RoleOf(state, action.Kind)
	if !ok {
		return &errors.ErrPreconditionFailed{Action: action.Kind, Condition: "no role may perform this action at status " + string(state.Order.Status)}
	}
	if role != actor.Role {
		return &errors.ErrPreconditionFailed{
			Action:    action.Kind,
			Condition: fmt.Sprintf("requires role %s, actor is %s", role, actor.Role),
		}
	}
	if cond := unmet(state, action); cond != "" {
		return &errors.ErrPreconditionFailed{Action: action.Kind, Condition: cond}
	}
	return nil
}

// unmet returns the first unmet condition for the action, or "" when it is allowed.
func unmet(state *OrderWorkflowState, action domain.Action) string {
	order := state.Order
	status := order.Status

	switch action.Kind {
	case domain.ActionSendFeedback:
		if status != domain.StatusDelivering && status != domain.StatusCompleted {
			return "feedback is only accepted while delivering or after completion"
		}
		if order.ComplaintOpen {
			return "a complaint is already open"
		}
		return ""
	case domain.ActionCreateReview:
		if status != domain.StatusCompleted {
			return "order is not completed"
		}
		if order.HasReview {
			return "order was already reviewed"
		}
		return ""
	case domain.ActionRespondToComplaint:
		if !order.ComplaintOpen {
			return "no open complaint"
		}
		return ""
	case domain.ActionCancelOrder:
		if status.IsTerminal() {
			return "order is " + strings.ToLower(string(status))
		}
		return ""
	}

	if status.IsTerminal() {
		return "order is " + strings.ToLower(string(status))
	}
	flow, known := state.Flow()
	if !known {
		return state.FlowWarning()
	}
	step, ok := state.CurrentStep()
	if !ok {
		return fmt.Sprintf("status %s is not part of the %s flow", status, flow.Name)
	}

	switch action.Kind {
	case domain.ActionPayDeposit:
		return unmetPayDeposit(state, step, action.DepositNumber)
	case domain.ActionCreateShipment:
		if step.Leg == "" || step.Leg != action.Leg {
			return fmt.Sprintf("no %s shipment is needed at status %s", action.Leg, status)
		}
		if order.Install {
			return "install orders are delivered by the woodworker"
		}
		if len(state.ShipmentsForLeg(action.Leg)) == 0 {
			return fmt.Sprintf("no %s shipment record exists for the order", action.Leg)
		}
		if state.LegShipped(action.Leg) {
			return fmt.Sprintf("%s shipment was already created", action.Leg)
		}
		return ""
	case domain.ActionMarkFinished:
		if order.Type != domain.OrderTypeService {
			return "finish images apply to service orders only"
		}
	case domain.ActionConfirmReceived:
		if step.Advance == action.Kind {
			if d, outstanding := state.NextPayableDeposit(); outstanding {
				return fmt.Sprintf("deposit %d is still unpaid", d.DepositNumber)
			}
		}
	}

	if step.Advance != action.Kind {
		if step.Advance == "" {
			return fmt.Sprintf("status %s is final", status)
		}
		return fmt.Sprintf("status %s advances by %s", status, step.Advance)
	}
	return ""
}

func unmetPayDeposit(state *OrderWorkflowState, step Step, number int) string {
	d, ok := state.Deposit(number)
	if !ok {
		return fmt.Sprintf("deposit %d does not exist", number)
	}
	if d.Paid {
		return fmt.Sprintf("deposit %d is already paid", number)
	}
	for _, earlier := range state.Deposits {
		if earlier.DepositNumber < number && !earlier.Paid {
			return fmt.Sprintf("deposit %d must be paid first", earlier.DepositNumber)
		}
	}
	if step.Advance != domain.ActionPayDeposit && !step.PaymentDue {
		return fmt.Sprintf("no payment is due at status %s", state.Order.Status)
	}
	return ""
}

// CheckFinishImages enforces the all-or-nothing finish rule: every requested product
// must have existing finish images or freshly staged ones.
func CheckFinishImages(products []domain.RequestedProduct, staged map[int64][]string) error {
	known := make(map[int64]bool, len(products))
	var missing []int64
	for _, p := range products {
		known[p.ID] = true
		if len(p.FinishImages) > 0 || len(nonEmpty(staged[p.ID])) > 0 {
			continue
		}
		missing = append(missing, p.ID)
	}

	var unknown []string
	for id := range staged {
		if !known[id] {
			unknown = append(unknown, strconv.FormatInt(id, 10))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &errors.ErrValidation{
			Message: "staged images reference products not in the order",
			Fields:  map[string]string{"products": strings.Join(unknown, ",")},
		}
	}

	if len(missing) > 0 {
		ids := make([]string, len(missing))
		for i, id := range missing {
			ids[i] = strconv.FormatInt(id, 10)
		}
		return &errors.ErrPreconditionFailed{
			Action:    domain.ActionMarkFinished,
			Condition: "products without finish images: " + strings.Join(ids, ", "),
		}
	}
	return nil
}

func nonEmpty(urls []string) []string {
	out := urls[:0:0]
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out
}
