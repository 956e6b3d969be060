package service

import (
	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/workflow"
)

// AdvanceRequest is the optional body of a plain workflow action
type AdvanceRequest struct {
	Note string `json:"note" binding:"max=500"`
}

// PayRequest selects the payment rail for a deposit
type PayRequest struct {
	Method    domain.PaymentMethod `json:"method" binding:"required,oneof=wallet gateway"`
	ReturnURL string               `json:"return_url" binding:"omitempty,url"`
}

// FinishRequest carries freshly staged finish images per requested product
type FinishRequest struct {
	Products []FinishProduct `json:"products" binding:"dive"`
}

type FinishProduct struct {
	ProductID int64    `json:"product_id" binding:"required"`
	Images    []string `json:"images" binding:"dive,omitempty,url"`
}

// Staged groups the request's images by product
func (r FinishRequest) Staged() map[int64][]string {
	out := make(map[int64][]string, len(r.Products))
	for _, p := range r.Products {
		out[p.ProductID] = append(out[p.ProductID], p.Images...)
	}
	return out
}

type FeedbackRequest struct {
	Content string `json:"content" binding:"required,max=2000"`
}

type ReviewRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Content string `json:"content" binding:"max=2000"`
}

type ComplaintResponseRequest struct {
	Content string `json:"content" binding:"required,max=2000"`
}

// PaymentOutcome tells the caller what happened to a deposit payment.
// Wallet payments complete synchronously; gateway payments return a redirect URL
// and complete out of band.
type PaymentOutcome struct {
	Method        domain.PaymentMethod `json:"method"`
	DepositNumber int                  `json:"deposit_number"`
	Paid          bool                 `json:"paid"`
	RedirectURL   string               `json:"redirect_url,omitempty"`
	NextStatus    domain.OrderStatus   `json:"next_status,omitempty"`
	CarrierCode   domain.CarrierCode   `json:"carrier_code"`
}

// ActionResult is returned by every executed workflow action
type ActionResult struct {
	Action      domain.Action       `json:"action"`
	FromStatus  domain.OrderStatus  `json:"from_status"`
	ToStatus    *domain.OrderStatus `json:"to_status,omitempty"`
	CarrierCode domain.CarrierCode  `json:"carrier_code"`
	Payment     *PaymentOutcome     `json:"payment,omitempty"`
}

// StepView is one flow step as shown to the client
type StepView struct {
	Status     domain.OrderStatus `json:"status"`
	Advance    domain.ActionKind  `json:"advance,omitempty"`
	Leg        domain.ShipmentLeg `json:"leg,omitempty"`
	PaymentDue bool               `json:"payment_due,omitempty"`
	Current    bool               `json:"current"`
}

// WorkflowView is everything a screen needs to render an order's workflow
type WorkflowView struct {
	Order            domain.Order             `json:"order"`
	Deposits         []domain.Deposit         `json:"deposits"`
	Shipments        []domain.Shipment        `json:"shipments"`
	Flow             string                   `json:"flow"`
	FlowWarning      string                   `json:"flow_warning,omitempty"`
	Steps            []StepView               `json:"steps"`
	PermittedActions []domain.Action          `json:"permitted_actions"`
	Timeline         []workflow.TimelineEntry `json:"timeline"`
}

// NewWorkflowView derives the view of state for actor
func NewWorkflowView(state *workflow.OrderWorkflowState, actor domain.Actor) *WorkflowView {
	flow, _ := state.Flow()
	steps := make([]StepView, len(flow.Steps))
	for i, s := range flow.Steps {
		steps[i] = StepView{
			Status:     s.Status,
			Advance:    s.Advance,
			Leg:        s.Leg,
			PaymentDue: s.PaymentDue,
			Current:    s.Status == state.Order.Status,
		}
	}
	return &WorkflowView{
		Order:            state.Order,
		Deposits:         state.Deposits,
		Shipments:        state.Shipments,
		Flow:             flow.Name,
		FlowWarning:      state.FlowWarning(),
		Steps:            steps,
		PermittedActions: workflow.PermittedActions(state, actor),
		Timeline:         state.Timeline(),
	}
}
