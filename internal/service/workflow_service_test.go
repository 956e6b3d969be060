package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/events"
	"github.com/woodmarket/orderflow/pkg/errors"
)

func TestWorkflowService_View(t *testing.T) {
	h := newHarness(serviceOrder(domain.ServiceSale, domain.StatusPending))
	h.market.deposits = unpaid(2)
	h.market.progress = []domain.ProgressEvent{{Status: domain.StatusPending, CreatedTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}}

	view, err := h.svc.View(t.Context(), domain.OrderRef{Type: domain.OrderTypeService, ID: 5}, customer)
	require.NoError(t, err)

	assert.Equal(t, "sale", view.Flow)
	assert.Empty(t, view.FlowWarning)
	require.Len(t, view.Steps, 4)
	assert.True(t, view.Steps[0].Current)
	assert.Equal(t, domain.ActionPayDeposit, view.Steps[0].Advance)
	require.Len(t, view.PermittedActions, 1)
	assert.Equal(t, "pay_deposit(1)", view.PermittedActions[0].String())
	require.Len(t, view.Timeline, 4)
	assert.True(t, view.Timeline[0].Completed)
	assert.False(t, view.Timeline[1].Completed)
}

func TestWorkflowService_ViewUnknownFlow(t *testing.T) {
	order := serviceOrder("Engraving", domain.StatusPending)
	h := newHarness(order)

	view, err := h.svc.View(t.Context(), order.Ref(), customer)
	require.NoError(t, err)
	assert.NotEmpty(t, view.FlowWarning)
	assert.Empty(t, view.Steps)
	assert.Empty(t, view.PermittedActions)
}

func TestWorkflowService_LoadRejectsUnknownType(t *testing.T) {
	h := newHarness(serviceOrder(domain.ServiceSale, domain.StatusPending))

	_, err := h.svc.Load(t.Context(), domain.OrderRef{Type: "rental", ID: 1})

	var ve *errors.ErrValidation
	assert.True(t, stderrors.As(err, &ve))
}

func TestAdvance_WarrantyQuoteShipsPickup(t *testing.T) {
	order := guaranteeOrder(true, domain.StatusPending)
	h := newHarness(order)
	h.market.shipments = []domain.Shipment{row(3, "pickup", ""), row(4, "return", "")}

	result, err := h.svc.Advance(t.Context(), order.Ref(), woodworker, domain.ActionConfirmQuote, "picked up Monday")
	require.NoError(t, err)

	require.NotNil(t, result.ToStatus)
	assert.Equal(t, domain.StatusRepairing, *result.ToStatus)
	assert.Equal(t, "GHN-NEW", result.CarrierCode.String())
	assert.Equal(t, []string{"update_code:3:GHN-NEW", "progress:REPAIRING"}, h.market.Calls())

	audited := h.audit.Events()
	require.Len(t, audited, 1)
	assert.Equal(t, domain.OutcomeSucceeded, audited[0].Outcome)
	assert.Equal(t, domain.StatusPending, audited[0].FromStatus)
	assert.Equal(t, "GHN-NEW", audited[0].EventData["carrier_code"])
	assert.Equal(t, "picked up Monday", audited[0].EventData["note"])
	assert.Equal(t, "wood-1", audited[0].ActorID)

	published := h.notifier.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.KindAction, published[0].Kind)
	assert.Equal(t, domain.ActionConfirmQuote, published[0].Action)
}

func TestAdvance_WrongRoleIsNotAudited(t *testing.T) {
	order := guaranteeOrder(true, domain.StatusPending)
	h := newHarness(order)
	h.market.shipments = []domain.Shipment{row(3, "pickup", "")}

	_, err := h.svc.Advance(t.Context(), order.Ref(), customer, domain.ActionConfirmQuote, "")

	var pf *errors.ErrPreconditionFailed
	require.True(t, stderrors.As(err, &pf))
	assert.Contains(t, pf.Condition, "requires role woodworker")
	assert.Empty(t, h.market.Calls())
	assert.Empty(t, h.audit.Events())
	assert.Empty(t, h.notifier.Events())
}

func TestAdvance_ConfirmReceivedCompletes(t *testing.T) {
	order := serviceOrder(domain.ServiceSale, domain.StatusDelivering)
	h := newHarness(order)
	h.market.deposits = []domain.Deposit{{DepositNumber: 1, Paid: true}}

	result, err := h.svc.Advance(t.Context(), order.Ref(), customer, domain.ActionConfirmReceived, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, *result.ToStatus)
	assert.Zero(t, h.carrier.createCalls.Load())
}

func TestAdvance_StaffCancels(t *testing.T) {
	order := serviceOrder(domain.ServicePersonalization, domain.StatusDesignSubmitted)
	h := newHarness(order)

	result, err := h.svc.Advance(t.Context(), order.Ref(), staff, domain.ActionCancelOrder, "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, *result.ToStatus)
	assert.Equal(t, []string{"progress:CANCELLED"}, h.market.Calls())

	// cancelled orders accept nothing else
	_, err = h.svc.Advance(t.Context(), order.Ref(), staff, domain.ActionCancelOrder, "")
	var pf *errors.ErrPreconditionFailed
	require.True(t, stderrors.As(err, &pf))
	assert.Equal(t, "order is cancelled", pf.Condition)
}

func TestAdvance_DedicatedKindsRejected(t *testing.T) {
	order := serviceOrder(domain.ServiceSale, domain.StatusPending)
	h := newHarness(order)

	for _, kind := range []domain.ActionKind{domain.ActionPayDeposit, domain.ActionMarkFinished, domain.ActionCreateShipment, domain.ActionSendFeedback} {
		_, err := h.svc.Advance(t.Context(), order.Ref(), customer, kind, "")
		var ve *errors.ErrValidation
		assert.True(t, stderrors.As(err, &ve), "kind %s", kind)
	}
	assert.Empty(t, h.market.Calls())
}

func TestAdvance_ProgressFailureIsAudited(t *testing.T) {
	order := serviceOrder(domain.ServiceCustomization, domain.StatusPending)
	h := newHarness(order)
	h.market.addProgressErr = &errors.ErrUpstream{Service: "marketplace", StatusCode: 500}

	_, err := h.svc.Advance(t.Context(), order.Ref(), woodworker, domain.ActionConfirmQuote, "")

	var up *errors.ErrUpstream
	require.True(t, stderrors.As(err, &up))
	audited := h.audit.Events()
	require.Len(t, audited, 1)
	assert.Equal(t, domain.OutcomeFailed, audited[0].Outcome)
	assert.Nil(t, audited[0].ToStatus)
	assert.Contains(t, audited[0].EventData["error"], "marketplace returned 500")
	assert.Empty(t, h.notifier.Events())
}

func TestAdvance_TimeoutReleasesSlot(t *testing.T) {
	order := serviceOrder(domain.ServiceCustomization, domain.StatusPending)
	h := newHarness(order)
	h.market.blockProgress = true
	h.svc.actionTimeout = 50 * time.Millisecond

	_, err := h.svc.Advance(t.Context(), order.Ref(), woodworker, domain.ActionConfirmQuote, "")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, h.inflight.Busy(order.Ref(), domain.ActionConfirmQuote))
	require.Len(t, h.audit.Events(), 1, "the audit write outlives the action deadline")
}

func TestAdvance_InFlightRejected(t *testing.T) {
	order := serviceOrder(domain.ServiceCustomization, domain.StatusPending)
	h := newHarness(order)
	release, err := h.inflight.Acquire(order.Ref(), domain.ActionConfirmQuote)
	require.NoError(t, err)
	defer release()

	_, err = h.svc.Advance(t.Context(), order.Ref(), woodworker, domain.ActionConfirmQuote, "")

	var inFlight *errors.ErrActionInFlight
	require.True(t, stderrors.As(err, &inFlight))
	assert.Empty(t, h.audit.Events())
}

func TestMarkFinished_AllOrNothing(t *testing.T) {
	order := serviceOrder(domain.ServiceCustomization, domain.StatusDepositPaid)
	h := newHarness(order)
	h.market.shipments = []domain.Shipment{row(1, "delivery", "")}

	_, err := h.svc.MarkFinished(t.Context(), order.Ref(), woodworker, map[int64][]string{1: {"https://img/1.jpg"}, 2: {"  "}})

	var pf *errors.ErrPreconditionFailed
	require.True(t, stderrors.As(err, &pf))
	assert.Equal(t, "products without finish images: 2", pf.Condition)
	assert.Empty(t, h.market.Calls(), "no images are submitted when a product is missing")
	assert.Zero(t, h.carrier.createCalls.Load())
}

func TestMarkFinished_SubmitsShipsAndAdvances(t *testing.T) {
	order := serviceOrder(domain.ServiceCustomization, domain.StatusDepositPaid)
	order.Products[1].FinishImages = []string{"https://img/existing.jpg"}
	h := newHarness(order)
	h.market.shipments = []domain.Shipment{row(1, "delivery", "")}

	result, err := h.svc.MarkFinished(t.Context(), order.Ref(), woodworker, map[int64][]string{1: {"https://img/1.jpg", ""}})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDelivering, *result.ToStatus)
	assert.Equal(t, "GHN-NEW", result.CarrierCode.String())
	assert.Equal(t, []string{"finish_images:1", "update_code:1:GHN-NEW", "progress:DELIVERING"}, h.market.Calls())
	assert.Equal(t, map[int64][]string{1: {"https://img/1.jpg"}}, h.market.finishImages)
	assert.Equal(t, 1, h.audit.Events()[0].EventData["images"])
}

func TestMarkFinished_InstallOrderSkipsCarrier(t *testing.T) {
	order := serviceOrder(domain.ServicePersonalization, domain.StatusDesignConfirmed)
	order.Install = true
	order.Products = order.Products[:1]
	h := newHarness(order)

	result, err := h.svc.MarkFinished(t.Context(), order.Ref(), woodworker, map[int64][]string{1: {"https://img/1.jpg"}})
	require.NoError(t, err)

	assert.False(t, result.CarrierCode.IsSet())
	assert.Zero(t, h.carrier.createCalls.Load())
	assert.Equal(t, domain.StatusDelivering, *result.ToStatus)
}

func TestCreateShipment_AheadOfStep(t *testing.T) {
	order := serviceOrder(domain.ServiceSale, domain.StatusDepositPaid)
	h := newHarness(order)
	h.market.shipments = []domain.Shipment{row(1, "delivery", "string")}

	result, err := h.svc.CreateShipment(t.Context(), order.Ref(), woodworker, domain.LegDelivery)
	require.NoError(t, err)
	assert.Equal(t, "GHN-NEW", result.CarrierCode.String())
	assert.Nil(t, result.ToStatus)

	// the leg now has a code, so a second request is refused by the guard
	_, err = h.svc.CreateShipment(t.Context(), order.Ref(), woodworker, domain.LegDelivery)
	var pf *errors.ErrPreconditionFailed
	require.True(t, stderrors.As(err, &pf))
	assert.Equal(t, int32(1), h.carrier.createCalls.Load())
	assert.Equal(t, "delivery", h.audit.Events()[0].EventData["leg"])
}

func TestWorkflowService_PayGatewayIsPending(t *testing.T) {
	order := serviceOrder(domain.ServiceSale, domain.StatusPending)
	h := newHarness(order)
	h.market.deposits = unpaid(1)

	result, err := h.svc.Pay(t.Context(), order.Ref(), customer, 1, domain.PaymentGateway, "app://back")
	require.NoError(t, err)

	require.NotNil(t, result.Payment)
	assert.Equal(t, "https://pay.example/s/1", result.Payment.RedirectURL)
	assert.Nil(t, result.ToStatus)

	audited := h.audit.Events()
	require.Len(t, audited, 1)
	assert.Equal(t, domain.OutcomePending, audited[0].Outcome)
	assert.Equal(t, 1, audited[0].EventData["deposit_number"])
	assert.Equal(t, "gateway", audited[0].EventData["method"])
}

func TestWorkflowService_PayWalletMovesStatus(t *testing.T) {
	order := serviceOrder(domain.ServiceSale, domain.StatusPending)
	h := newHarness(order)
	h.market.deposits = unpaid(1)

	result, err := h.svc.Pay(t.Context(), order.Ref(), customer, 1, domain.PaymentWallet, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDepositPaid, *result.ToStatus)
	assert.True(t, result.Payment.Paid)
	assert.Equal(t, domain.OutcomeSucceeded, h.audit.Events()[0].Outcome)
}

func TestWorkflowService_FeedbackReviewComplaint(t *testing.T) {
	order := serviceOrder(domain.ServiceSale, domain.StatusCompleted)
	h := newHarness(order)

	_, err := h.svc.SendFeedback(t.Context(), order.Ref(), customer, "  ")
	var ve *errors.ErrValidation
	require.True(t, stderrors.As(err, &ve))

	_, err = h.svc.SendFeedback(t.Context(), order.Ref(), customer, "Lovely finish")
	require.NoError(t, err)

	_, err = h.svc.CreateReview(t.Context(), order.Ref(), customer, 6, "")
	require.True(t, stderrors.As(err, &ve))

	_, err = h.svc.CreateReview(t.Context(), order.Ref(), customer, 5, "great")
	require.NoError(t, err)

	_, err = h.svc.RespondToComplaint(t.Context(), order.Ref(), staff, "We will fix it")
	var pf *errors.ErrPreconditionFailed
	require.True(t, stderrors.As(err, &pf))
	assert.Equal(t, "no open complaint", pf.Condition)

	assert.Equal(t, []string{"feedback", "review:5"}, h.market.Calls())
	assert.Equal(t, []string{"Lovely finish"}, h.market.feedback)
}

func TestWorkflowService_RespondToOpenComplaint(t *testing.T) {
	order := serviceOrder(domain.ServiceSale, domain.StatusCompleted)
	order.ComplaintOpen = true
	h := newHarness(order)

	_, err := h.svc.RespondToComplaint(t.Context(), order.Ref(), staff, "We will fix it")
	require.NoError(t, err)
	assert.Equal(t, []string{"complaint_response"}, h.market.Calls())
}

func TestWorkflowService_TrackingAndAudit(t *testing.T) {
	order := serviceOrder(domain.ServiceSale, domain.StatusDelivering)
	h := newHarness(order)
	h.market.shipments = []domain.Shipment{row(1, "delivery", "GHN1")}

	snaps, err := h.svc.Tracking(t.Context(), order.Ref())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "GHN1", snaps[0].OrderCode)

	audit, err := h.svc.Audit(t.Context(), order.Ref())
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestWorkflowService_OverlappingPayDebitsOnce(t *testing.T) {
	order := serviceOrder(domain.ServiceSale, domain.StatusPending)
	h := newHarness(order)
	h.market.deposits = unpaid(1)
	h.market.walletStarted = make(chan struct{})
	h.market.walletRelease = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := h.svc.Pay(t.Context(), order.Ref(), customer, 1, domain.PaymentWallet, "")
		first <- err
	}()
	<-h.market.walletStarted

	// the second request reads deposits while the first debit is running and
	// only reaches the payment slot after the first request has finished
	held, release := h.market.holdNextDeposits()
	second := make(chan error, 1)
	go func() {
		_, err := h.svc.Pay(t.Context(), order.Ref(), customer, 1, domain.PaymentWallet, "")
		second <- err
	}()
	<-held

	close(h.market.walletRelease)
	require.NoError(t, <-first)
	close(release)

	err := <-second
	var pf *errors.ErrPreconditionFailed
	require.True(t, stderrors.As(err, &pf), "got %v", err)
	assert.Equal(t, int32(1), h.market.walletCalls.Load())
	assert.Equal(t, []string{"wallet:1", "progress:DEPOSIT_PAID"}, h.market.Calls())
	assert.Len(t, h.audit.Events(), 1)
}

func TestAdvance_OverlappingAdvanceRecordsOnce(t *testing.T) {
	order := serviceOrder(domain.ServicePersonalization, domain.StatusPending)
	h := newHarness(order)
	h.market.progressStarted = make(chan struct{})
	h.market.progressRelease = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := h.svc.Advance(t.Context(), order.Ref(), woodworker, domain.ActionConfirmQuote, "")
		first <- err
	}()
	<-h.market.progressStarted

	_, err := h.svc.Advance(t.Context(), order.Ref(), woodworker, domain.ActionConfirmQuote, "")
	var inFlight *errors.ErrActionInFlight
	require.True(t, stderrors.As(err, &inFlight), "got %v", err)

	close(h.market.progressRelease)
	require.NoError(t, <-first)

	// a retry after the first one finished sees the new status
	_, err = h.svc.Advance(t.Context(), order.Ref(), woodworker, domain.ActionConfirmQuote, "")
	var pf *errors.ErrPreconditionFailed
	require.True(t, stderrors.As(err, &pf), "got %v", err)

	assert.Equal(t, []string{"progress:QUOTED"}, h.market.Calls())
	assert.Len(t, h.audit.Events(), 1)
}

func TestMarkFinished_OverlappingRequestSubmitsOnce(t *testing.T) {
	order := serviceOrder(domain.ServiceCustomization, domain.StatusDepositPaid)
	h := newHarness(order)
	h.market.shipments = []domain.Shipment{row(1, "delivery", "")}
	h.market.progressStarted = make(chan struct{})
	h.market.progressRelease = make(chan struct{})
	staged := map[int64][]string{1: {"https://img/1.jpg"}, 2: {"https://img/2.jpg"}}

	first := make(chan error, 1)
	go func() {
		_, err := h.svc.MarkFinished(t.Context(), order.Ref(), woodworker, staged)
		first <- err
	}()
	<-h.market.progressStarted

	_, err := h.svc.MarkFinished(t.Context(), order.Ref(), woodworker, staged)
	var inFlight *errors.ErrActionInFlight
	require.True(t, stderrors.As(err, &inFlight), "got %v", err)

	close(h.market.progressRelease)
	require.NoError(t, <-first)

	_, err = h.svc.MarkFinished(t.Context(), order.Ref(), woodworker, staged)
	var pf *errors.ErrPreconditionFailed
	require.True(t, stderrors.As(err, &pf), "got %v", err)

	assert.Equal(t, []string{"finish_images:2", "update_code:1:GHN-NEW", "progress:DELIVERING"}, h.market.Calls())
	assert.Equal(t, int32(1), h.carrier.createCalls.Load())
}
