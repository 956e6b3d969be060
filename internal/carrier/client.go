package carrier

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
)

// Config holds carrier API settings
type Config struct {
	BaseURL string
	Token   string
	ShopID  string
}

// Client talks to the shipping carrier's public API
type Client struct {
	baseURL    string
	token      string
	shopID     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new carrier client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		shopID:  cfg.ShopID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Item is one parcel line sent to the carrier
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// CreateRequest describes a shipment to create
type CreateRequest struct {
	ClientOrderCode string `json:"client_order_code"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Items           []Item `json:"items"`
	Note            string `json:"note,omitempty"`
}

// Tracking is the carrier's current view of one shipment
type Tracking struct {
	OrderCode string    `json:"order_code"`
	Status    string    `json:"status"`
	Leadtime  time.Time `json:"leadtime"`
}

// APIError is a non-success answer from the carrier. Message is the carrier's own text.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier error: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether retrying the call may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CreateShipment creates a carrier shipment and returns the carrier order code
func (c *Client) CreateShipment(ctx context.Context, req CreateRequest) (string, error) {
	var out struct {
		OrderCode string `json:"order_code"`
	}
	if err := c.post(ctx, "/v2/shipping-order/create", req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.OrderCode) == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "carrier returned no order code"}
	}
	return out.OrderCode, nil
}

// Track queries the carrier for the tracking state of an order code
func (c *Client) Track(ctx context.Context, orderCode string) (*Tracking, error) {
	var out Tracking
	if err := c.post(ctx, "/v2/shipping-order/detail", map[string]string{"order_code": orderCode}, &out); err != nil {
		return nil, err
	}
	if out.OrderCode == "" {
		out.OrderCode = orderCode
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("carrier client not configured: base URL required")
	}
	jsonData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", c.token)
	if c.shopID != "" {
		req.Header.Set("ShopId", c.shopID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || (env.Code != 0 && env.Code != http.StatusOK) {
		c.logger.Debug("Carrier API returned an error",
			zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("message", env.Message))
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}
	return nil
}
