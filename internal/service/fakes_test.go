package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/woodmarket/orderflow/internal/carrier"
	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/events"
	"github.com/woodmarket/orderflow/internal/workflow"
)

type fakeMarket struct {
	mu        sync.Mutex
	order     domain.Order
	deposits  []domain.Deposit
	shipments []domain.Shipment
	progress  []domain.ProgressEvent

	calls        []string
	finishImages map[int64][]string
	feedback     []string

	listShipmentsErr error
	updateCodeErr    error
	walletErr        error
	gatewayURL       string
	gatewayErr       error
	addProgressErr   error

	// walletStarted is closed when the first wallet call begins; walletRelease unblocks it
	walletStarted chan struct{}
	walletRelease chan struct{}
	walletCalls   atomic.Int32

	// blockProgress makes AddProgress wait for its context
	blockProgress bool
	// progressStarted is closed when the first AddProgress begins; progressRelease unblocks it
	progressStarted chan struct{}
	progressRelease chan struct{}

	// depositsHeld is closed once the next ListDeposits has read its answer, which it then
	// returns only after depositsRelease is closed
	depositsHeld    chan struct{}
	depositsRelease chan struct{}
}

// holdNextDeposits parks the next ListDeposits call after it has read the deposits
func (m *fakeMarket) holdNextDeposits() (held, release chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depositsHeld = make(chan struct{})
	m.depositsRelease = make(chan struct{})
	return m.depositsHeld, m.depositsRelease
}

func (m *fakeMarket) call(format string, args ...interface{}) {
	m.mu.Lock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

func (m *fakeMarket) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *fakeMarket) GetOrder(ctx context.Context, ref domain.OrderRef) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.order
	return &o, nil
}

func (m *fakeMarket) ListDeposits(ctx context.Context, ref domain.OrderRef) ([]domain.Deposit, error) {
	m.mu.Lock()
	out := append([]domain.Deposit(nil), m.deposits...)
	held, release := m.depositsHeld, m.depositsRelease
	m.depositsHeld, m.depositsRelease = nil, nil
	m.mu.Unlock()

	if held != nil {
		close(held)
		<-release
	}
	return out, nil
}

func (m *fakeMarket) ListShipments(ctx context.Context, ref domain.OrderRef) ([]domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listShipmentsErr != nil {
		return nil, m.listShipmentsErr
	}
	return append([]domain.Shipment(nil), m.shipments...), nil
}

func (m *fakeMarket) ListProgress(ctx context.Context, ref domain.OrderRef) ([]domain.ProgressEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProgressEvent(nil), m.progress...), nil
}

func (m *fakeMarket) UpdateShipmentOrderCode(ctx context.Context, ref domain.OrderRef, shipmentID int64, code string) error {
	m.call("update_code:%d:%s", shipmentID, code)
	if m.updateCodeErr != nil {
		return m.updateCodeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.shipments {
		if m.shipments[i].ID == shipmentID {
			m.shipments[i].OrderCode = domain.ParseCarrierCode(code)
		}
	}
	return nil
}

func (m *fakeMarket) PayDepositWallet(ctx context.Context, ref domain.OrderRef, deposit domain.Deposit, payerID string) error {
	m.walletCalls.Add(1)
	m.call("wallet:%d", deposit.DepositNumber)
	if m.walletStarted != nil {
		close(m.walletStarted)
		<-m.walletRelease
	}
	if m.walletErr != nil {
		return m.walletErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.deposits {
		if m.deposits[i].DepositNumber == deposit.DepositNumber {
			m.deposits[i].Paid = true
		}
	}
	return nil
}

func (m *fakeMarket) CreateGatewaySession(ctx context.Context, ref domain.OrderRef, deposit domain.Deposit, payerID, returnURL string) (string, error) {
	m.call("gateway:%d:%s", deposit.DepositNumber, returnURL)
	if m.gatewayErr != nil {
		return "", m.gatewayErr
	}
	return m.gatewayURL, nil
}

func (m *fakeMarket) AddProgress(ctx context.Context, ref domain.OrderRef, status domain.OrderStatus, note string) error {
	if m.blockProgress {
		<-ctx.Done()
		return ctx.Err()
	}
	m.call("progress:%s", status)
	m.mu.Lock()
	started, release := m.progressStarted, m.progressRelease
	m.progressStarted = nil
	m.mu.Unlock()
	if started != nil {
		close(started)
		<-release
	}
	if m.addProgressErr != nil {
		return m.addProgressErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Status = status
	m.progress = append(m.progress, domain.ProgressEvent{Status: status, CreatedTime: time.Now()})
	return nil
}

func (m *fakeMarket) SubmitFinishImages(ctx context.Context, orderID int64, images map[int64][]string) error {
	m.call("finish_images:%d", len(images))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishImages = images
	return nil
}

func (m *fakeMarket) SendFeedback(ctx context.Context, ref domain.OrderRef, userID, content string) error {
	m.call("feedback")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, content)
	return nil
}

func (m *fakeMarket) CreateReview(ctx context.Context, ref domain.OrderRef, userID string, rating int, content string) error {
	m.call("review:%d", rating)
	return nil
}

func (m *fakeMarket) RespondToComplaint(ctx context.Context, ref domain.OrderRef, staffID, content string) error {
	m.call("complaint_response")
	return nil
}

type fakeCarrier struct {
	mu          sync.Mutex
	createCalls atomic.Int32
	created     []carrier.CreateRequest
	code        string
	createErr   error

	trackCalls map[string]int
	// track answers the n-th (1-based) poll of code
	track func(code string, n int) (*carrier.Tracking, error)
}

func (c *fakeCarrier) CreateShipment(ctx context.Context, req carrier.CreateRequest) (string, error) {
	c.createCalls.Add(1)
	c.mu.Lock()
	c.created = append(c.created, req)
	c.mu.Unlock()
	if c.createErr != nil {
		return "", c.createErr
	}
	return c.code, nil
}

func (c *fakeCarrier) Track(ctx context.Context, orderCode string) (*carrier.Tracking, error) {
	c.mu.Lock()
	if c.trackCalls == nil {
		c.trackCalls = map[string]int{}
	}
	c.trackCalls[orderCode]++
	n := c.trackCalls[orderCode]
	c.mu.Unlock()
	if c.track == nil {
		return &carrier.Tracking{OrderCode: orderCode, Status: "ready_to_pick"}, nil
	}
	return c.track(orderCode, n)
}

func (c *fakeCarrier) TrackCalls(code string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trackCalls[code]
}

type fakeAudit struct {
	mu      sync.Mutex
	events  []*domain.WorkflowEvent
	shipped []domain.OrderRef
}

func (a *fakeAudit) Create(ctx context.Context, event *domain.WorkflowEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) ListByOrder(ctx context.Context, ref domain.OrderRef) ([]*domain.WorkflowEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*domain.WorkflowEvent
	for _, e := range a.events {
		if e.OrderType == ref.Type && e.OrderID == ref.ID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *fakeAudit) ListRecent(ctx context.Context, limit int) ([]*domain.WorkflowEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit > len(a.events) {
		limit = len(a.events)
	}
	return a.events[:limit], nil
}

func (a *fakeAudit) ListShippedOrders(ctx context.Context, since time.Time) ([]domain.OrderRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shipped, nil
}

func (a *fakeAudit) Events() []*domain.WorkflowEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*domain.WorkflowEvent(nil), a.events...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *fakeNotifier) Notify(evt events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *fakeNotifier) Events() []events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.Event(nil), n.events...)
}

type harness struct {
	market   *fakeMarket
	carrier  *fakeCarrier
	audit    *fakeAudit
	notifier *fakeNotifier
	inflight *workflow.InFlight

	shipments *ShipmentCoordinator
	payments  *PaymentCoordinator
	svc       *WorkflowService
}

func newHarness(order domain.Order) *harness {
	h := &harness{
		market:   &fakeMarket{order: order, gatewayURL: "https://pay.example/s/1"},
		carrier:  &fakeCarrier{code: "GHN-NEW"},
		audit:    &fakeAudit{},
		notifier: &fakeNotifier{},
		inflight: workflow.NewInFlight(),
	}
	h.shipments = NewShipmentCoordinator(h.carrier, h.market, h.inflight, TrackingOptions{
		Concurrency:     2,
		PollTimeout:     time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
	}, nil)
	h.payments = NewPaymentCoordinator(h.market, h.market, h.shipments, h.inflight, "", nil)
	h.svc = NewWorkflowService(h.market, h.shipments, h.payments, h.inflight, h.audit, h.notifier, 2*time.Second, nil)
	return h
}

func (h *harness) state() *workflow.OrderWorkflowState {
	h.market.mu.Lock()
	defer h.market.mu.Unlock()
	return workflow.NewState(h.market.order, h.market.deposits, h.market.shipments, h.market.progress)
}

var (
	customer   = domain.Actor{Role: domain.RoleCustomer, ID: "cust-1"}
	woodworker = domain.Actor{Role: domain.RoleWoodworker, ID: "wood-1"}
	staff      = domain.Actor{Role: domain.RoleStaff, ID: "staff-1"}
)

func serviceOrder(service domain.ServiceName, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:              5,
		Type:            domain.OrderTypeService,
		ServiceName:     service,
		Status:          status,
		CustomerAddress: "12 Oak St",
		WorkshopAddress: "3 Pine Rd",
		Products: []domain.RequestedProduct{
			{ID: 1, Name: "Table", Quantity: 1},
			{ID: 2, Name: "Chair", Quantity: 4},
		},
	}
}

func guaranteeOrder(warranty bool, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:              9,
		Type:            domain.OrderTypeGuarantee,
		IsGuarantee:     warranty,
		Status:          status,
		CustomerAddress: "12 Oak St",
		WorkshopAddress: "3 Pine Rd",
		Products:        []domain.RequestedProduct{{ID: 3, Name: "Cabinet", Quantity: 1}},
	}
}

func unpaid(n int) []domain.Deposit {
	out := make([]domain.Deposit, n)
	for i := range out {
		out[i] = domain.Deposit{ID: int64(100 + i), DepositNumber: i + 1}
	}
	return out
}

func row(id int64, shipType, code string) domain.Shipment {
	return domain.Shipment{ID: id, ShipType: shipType, OrderCode: domain.ParseCarrierCode(code)}
}
