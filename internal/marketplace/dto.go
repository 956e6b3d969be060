package marketplace

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/woodmarket/orderflow/internal/domain"
)

type productDTO struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Quantity     int      `json:"quantity"`
	FinishImages []string `json:"finish_images"`
}

type orderDTO struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	ServiceName     string          `json:"service_name"`
	Install         bool            `json:"install"`
	IsGuarantee     bool            `json:"is_guarantee"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	AmountRemaining decimal.Decimal `json:"amount_remaining"`
	CustomerAddress string          `json:"customer_address"`
	WorkshopAddress string          `json:"workshop_address"`
	Products        []productDTO    `json:"requested_products"`
	HasReview       bool            `json:"has_review"`
	ComplaintOpen   bool            `json:"complaint_open"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (o orderDTO) toDomain(t domain.OrderType) domain.Order {
	products := make([]domain.RequestedProduct, len(o.Products))
	for i, p := range o.Products {
		products[i] = domain.RequestedProduct{ID: p.ID, Name: p.Name, Quantity: p.Quantity, FinishImages: p.FinishImages}
	}
	return domain.Order{
		ID:              o.ID,
		Type:            t,
		Status:          domain.OrderStatus(strings.ToUpper(strings.TrimSpace(o.Status))),
		ServiceName:     domain.ServiceName(o.ServiceName),
		Install:         o.Install,
		IsGuarantee:     o.IsGuarantee,
		TotalAmount:     o.TotalAmount,
		AmountPaid:      o.AmountPaid,
		AmountRemaining: o.AmountRemaining,
		CustomerAddress: o.CustomerAddress,
		WorkshopAddress: o.WorkshopAddress,
		Products:        products,
		HasReview:       o.HasReview,
		ComplaintOpen:   o.ComplaintOpen,
		CreatedAt:       o.CreatedAt,
	}
}

type depositDTO struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	DepositNumber int             `json:"deposit_number"`
	Percent       decimal.Decimal `json:"percent"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at"`
}

func (d depositDTO) toDomain() domain.Deposit {
	return domain.Deposit{
		ID:            d.ID,
		OrderID:       d.OrderID,
		DepositNumber: d.DepositNumber,
		Percent:       d.Percent,
		Amount:        d.Amount,
		Paid:          strings.EqualFold(strings.TrimSpace(d.Status), "paid"),
		CreatedAt:     d.CreatedAt,
		PaidAt:        d.PaidAt,
	}
}

type shipmentDTO struct {
	ID          int64   `json:"id"`
	OrderID     int64   `json:"order_id"`
	ShipType    string  `json:"ship_type"`
	FromAddress string  `json:"from_address"`
	ToAddress   string  `json:"to_address"`
	OrderCode   *string `json:"order_code"`
}

// toDomain converts the backend placeholder code into an absent CarrierCode
func (s shipmentDTO) toDomain() domain.Shipment {
	var code domain.CarrierCode
	if s.OrderCode != nil {
		code = domain.ParseCarrierCode(*s.OrderCode)
	}
	return domain.Shipment{
		ID:          s.ID,
		OrderID:     s.OrderID,
		ShipType:    s.ShipType,
		FromAddress: s.FromAddress,
		ToAddress:   s.ToAddress,
		OrderCode:   code,
	}
}

type progressDTO struct {
	Status      string    `json:"status"`
	CreatedTime time.Time `json:"created_time"`
}

type walletPaymentRequest struct {
	OrderType     string `json:"order_type"`
	OrderID       int64  `json:"order_id"`
	DepositID     int64  `json:"deposit_id"`
	DepositNumber int    `json:"deposit_number"`
	UserID        string `json:"user_id"`
}

type gatewaySessionRequest struct {
	walletPaymentRequest
	ReturnURL string `json:"return_url"`
}

type gatewaySessionResponse struct {
	URL string `json:"url"`
}

type finishProductDTO struct {
	ProductID int64    `json:"product_id"`
	Images    []string `json:"images"`
}

type finishImagesRequest struct {
	Products []finishProductDTO `json:"products"`
}

func sortFinishProducts(p []finishProductDTO) {
	sort.Slice(p, func(i, j int) bool { return p[i].ProductID < p[j].ProductID })
}

// unwrapData decodes either a bare JSON value or a {"data": ...} envelope
func unwrapData(raw []byte, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
			return json.Unmarshal(env.Data, out)
		}
	}
	return json.Unmarshal(trimmed, out)
}

// messageFrom extracts a human-readable message from an error body
func messageFrom(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
