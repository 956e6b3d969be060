package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/pkg/errors"
)

const serviceName = "marketplace"

// Client calls the marketplace backend REST API with a service key
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a marketplace HTTP client
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// family returns the path segment for an order family. Service and guarantee orders
// expose the same operations under different resources.
func family(t domain.OrderType) string {
	if t == domain.OrderTypeGuarantee {
		return "guarantee-orders"
	}
	return "service-orders"
}

func orderPath(ref domain.OrderRef) string {
	return fmt.Sprintf("/api/%s/%d", family(ref.Type), ref.ID)
}

// GetOrder fetches a service or guarantee order
func (c *Client) GetOrder(ctx context.Context, ref domain.OrderRef) (*domain.Order, error) {
	var dto orderDTO
	if err := c.do(ctx, http.MethodGet, orderPath(ref), nil, &dto); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, &errors.ErrNotFound{Resource: "order", ID: ref.String()}
		}
		return nil, err
	}
	order := dto.toDomain(ref.Type)
	return &order, nil
}

// ListDeposits returns the deposits of an order
func (c *Client) ListDeposits(ctx context.Context, ref domain.OrderRef) ([]domain.Deposit, error) {
	var dtos []depositDTO
	if err := c.do(ctx, http.MethodGet, orderPath(ref)+"/deposits", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.Deposit, len(dtos))
	for i, d := range dtos {
		out[i] = d.toDomain()
	}
	return out, nil
}

// ListShipments returns the shipment rows of an order
func (c *Client) ListShipments(ctx context.Context, ref domain.OrderRef) ([]domain.Shipment, error) {
	var dtos []shipmentDTO
	if err := c.do(ctx, http.MethodGet, orderPath(ref)+"/shipments", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.Shipment, len(dtos))
	for i, s := range dtos {
		out[i] = s.toDomain()
	}
	return out, nil
}

// UpdateShipmentOrderCode stores the carrier order code against a shipment row
func (c *Client) UpdateShipmentOrderCode(ctx context.Context, ref domain.OrderRef, shipmentID int64, code string) error {
	path := fmt.Sprintf("%s/shipments/%d/order-code", orderPath(ref), shipmentID)
	return c.do(ctx, http.MethodPut, path, map[string]string{"order_code": code}, nil)
}

// ListProgress returns the order's recorded progress events in recorded order
func (c *Client) ListProgress(ctx context.Context, ref domain.OrderRef) ([]domain.ProgressEvent, error) {
	var dtos []progressDTO
	if err := c.do(ctx, http.MethodGet, orderPath(ref)+"/progress", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.ProgressEvent, len(dtos))
	for i, p := range dtos {
		out[i] = domain.ProgressEvent{Status: domain.OrderStatus(p.Status), CreatedTime: p.CreatedTime}
	}
	return out, nil
}

// AddProgress appends a progress event; the backend moves the order to that status
func (c *Client) AddProgress(ctx context.Context, ref domain.OrderRef, status domain.OrderStatus, note string) error {
	body := map[string]string{"status": string(status)}
	if note != "" {
		body["note"] = note
	}
	return c.do(ctx, http.MethodPost, orderPath(ref)+"/progress", body, nil)
}

// PayDepositWallet debits the payer's wallet for one deposit
func (c *Client) PayDepositWallet(ctx context.Context, ref domain.OrderRef, deposit domain.Deposit, payerID string) error {
	body := walletPaymentRequest{
		OrderType:     string(ref.Type),
		OrderID:       ref.ID,
		DepositID:     deposit.ID,
		DepositNumber: deposit.DepositNumber,
		UserID:        payerID,
	}
	return c.do(ctx, http.MethodPost, "/api/payments/wallet", body, nil)
}

// CreateGatewaySession starts an external gateway payment and returns the redirect URL
func (c *Client) CreateGatewaySession(ctx context.Context, ref domain.OrderRef, deposit domain.Deposit, payerID, returnURL string) (string, error) {
	body := gatewaySessionRequest{
		walletPaymentRequest: walletPaymentRequest{
			OrderType:     string(ref.Type),
			OrderID:       ref.ID,
			DepositID:     deposit.ID,
			DepositNumber: deposit.DepositNumber,
			UserID:        payerID,
		},
		ReturnURL: returnURL,
	}
	var out gatewaySessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/payments/gateway-session", body, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("gateway session response has no redirect url")
	}
	return out.URL, nil
}

// SubmitFinishImages records finish images for the order's products (service orders only)
func (c *Client) SubmitFinishImages(ctx context.Context, orderID int64, images map[int64][]string) error {
	req := finishImagesRequest{}
	for productID, urls := range images {
		req.Products = append(req.Products, finishProductDTO{ProductID: productID, Images: urls})
	}
	sortFinishProducts(req.Products)
	path := fmt.Sprintf("/api/%s/%d/finish-images", family(domain.OrderTypeService), orderID)
	return c.do(ctx, http.MethodPost, path, req, nil)
}

// SendFeedback posts customer feedback; the backend opens a complaint from it
func (c *Client) SendFeedback(ctx context.Context, ref domain.OrderRef, userID, content string) error {
	return c.do(ctx, http.MethodPost, orderPath(ref)+"/feedback", map[string]string{"user_id": userID, "content": content}, nil)
}

// CreateReview posts a rating and comment for a completed order
func (c *Client) CreateReview(ctx context.Context, ref domain.OrderRef, userID string, rating int, content string) error {
	body := map[string]interface{}{"user_id": userID, "rating": rating, "content": content}
	return c.do(ctx, http.MethodPost, orderPath(ref)+"/reviews", body, nil)
}

// RespondToComplaint posts the staff answer that closes the open complaint
func (c *Client) RespondToComplaint(ctx context.Context, ref domain.OrderRef, staffID, content string) error {
	return c.do(ctx, http.MethodPost, orderPath(ref)+"/complaint-response", map[string]string{"staff_id": staffID, "content": content}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("marketplace client not configured: base URL required")
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Marketplace request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("marketplace %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errors.ErrUpstream{Service: serviceName, StatusCode: resp.StatusCode, Message: messageFrom(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := unwrapData(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func isStatus(err error, code int) bool {
	up, ok := err.(*errors.ErrUpstream)
	return ok && up.StatusCode == code
}
