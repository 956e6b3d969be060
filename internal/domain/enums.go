package domain

import "strings"

// OrderType distinguishes the two order families served by the marketplace
type OrderType string

const (
	OrderTypeService   OrderType = "service"
	OrderTypeGuarantee OrderType = "guarantee"
)

// IsValid checks if the order type is known
func (t OrderType) IsValid() bool {
	return t == OrderTypeService || t == OrderTypeGuarantee
}

// ServiceName is the kind of woodworking service a service order buys
type ServiceName string

const (
	ServicePersonalization ServiceName = "Personalization"
	ServiceCustomization   ServiceName = "Customization"
	ServiceSale            ServiceName = "Sale"
)

// OrderStatus is the workflow status recorded by the marketplace backend
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusQuoted          OrderStatus = "QUOTED"
	StatusDepositPaid     OrderStatus = "DEPOSIT_PAID"
	StatusDesignSubmitted OrderStatus = "DESIGN_SUBMITTED"
	StatusDesignConfirmed OrderStatus = "DESIGN_CONFIRMED"
	StatusRepairing       OrderStatus = "REPAIRING"
	StatusDelivering      OrderStatus = "DELIVERING"
	StatusCompleted       OrderStatus = "COMPLETED"
	// CANCELLED is terminal and never part of a flow
	StatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further workflow step can follow
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Role is the tagged variant of who is acting on an order
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleWoodworker Role = "woodworker"
	RoleStaff      Role = "staff"
	RoleAdmin      Role = "admin"
)

// ParseRole maps a header value to a Role
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleCustomer:
		return RoleCustomer, true
	case RoleWoodworker:
		return RoleWoodworker, true
	case RoleStaff:
		return RoleStaff, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// ActionKind enumerates the user-triggered workflow actions
type ActionKind string

const (
	ActionPayDeposit         ActionKind = "pay_deposit"
	ActionConfirmQuote       ActionKind = "confirm_quote"
	ActionSubmitDesign       ActionKind = "submit_design"
	ActionConfirmDesign      ActionKind = "confirm_design"
	ActionCreateShipment     ActionKind = "create_shipment"
	ActionMarkFinished       ActionKind = "mark_finished"
	ActionMarkRepaired       ActionKind = "mark_repaired"
	ActionConfirmReceived    ActionKind = "confirm_received"
	ActionSendFeedback       ActionKind = "send_feedback"
	ActionCreateReview       ActionKind = "create_review"
	ActionRespondToComplaint ActionKind = "respond_to_complaint"
	ActionCancelOrder        ActionKind = "cancel_order"
)

// ParseActionKind accepts both snake_case and the kebab-case used in URLs
func ParseActionKind(s string) (ActionKind, bool) {
	k := ActionKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch k {
	case ActionPayDeposit, ActionConfirmQuote, ActionSubmitDesign, ActionConfirmDesign,
		ActionCreateShipment, ActionMarkFinished, ActionMarkRepaired, ActionConfirmReceived,
		ActionSendFeedback, ActionCreateReview, ActionRespondToComplaint, ActionCancelOrder:
		return k, true
	default:
		return "", false
	}
}

// ShipmentLeg is one carrier-tracked movement of goods for an order
type ShipmentLeg string

const (
	// LegDelivery ships the finished product from the workshop to the customer
	LegDelivery ShipmentLeg = "delivery"
	// LegPickup ships the product from the customer to the workshop for repair
	LegPickup ShipmentLeg = "pickup"
	// LegReturn ships the repaired product back to the customer
	LegReturn ShipmentLeg = "return"
)

var legAliases = map[string]ShipmentLeg{
	"delivery":        LegDelivery,
	"deliver":         LegDelivery,
	"shipping":        LegDelivery,
	"pickup":          LegPickup,
	"pick-up":         LegPickup,
	"pick up":         LegPickup,
	"collect":         LegPickup,
	"return":          LegReturn,
	"return delivery": LegReturn,
	"redelivery":      LegReturn,
}

// ParseShipmentLeg maps the backend's free-text shipType label to a leg
func ParseShipmentLeg(shipType string) (ShipmentLeg, bool) {
	leg, ok := legAliases[strings.ToLower(strings.TrimSpace(shipType))]
	return leg, ok
}

// PaymentMethod selects the payment rail for a deposit
type PaymentMethod string

const (
	PaymentWallet  PaymentMethod = "wallet"
	PaymentGateway PaymentMethod = "gateway"
)

// IsValid checks if the payment method is known
func (m PaymentMethod) IsValid() bool {
	return m == PaymentWallet || m == PaymentGateway
}
