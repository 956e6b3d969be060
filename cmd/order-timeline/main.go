package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/carrier"
	"github.com/woodmarket/orderflow/internal/config"
	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/marketplace"
	"github.com/woodmarket/orderflow/internal/service"
	"github.com/woodmarket/orderflow/internal/workflow"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run cmd/order-timeline/main.go <service|guarantee> <order_id> [role]")
		fmt.Println("Example: go run cmd/order-timeline/main.go guarantee 42 customer")
		os.Exit(1)
	}

	orderType := domain.OrderType(strings.ToLower(os.Args[1]))
	id, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil || !orderType.IsValid() {
		fmt.Fprintf(os.Stderr, "Invalid order reference %s %s\n", os.Args[1], os.Args[2])
		os.Exit(1)
	}
	role := domain.RoleCustomer
	if len(os.Args) > 3 {
		r, ok := domain.ParseRole(os.Args[3])
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown role %q\n", os.Args[3])
			os.Exit(1)
		}
		role = r
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	market := marketplace.NewClient(cfg.Marketplace.BaseURL, cfg.Marketplace.APIKey, logger)
	carrierClient := carrier.NewClient(carrier.Config{BaseURL: cfg.Carrier.BaseURL, Token: cfg.Carrier.Token, ShopID: cfg.Carrier.ShopID}, logger)
	inflight := workflow.NewInFlight()
	shipments := service.NewShipmentCoordinator(carrierClient, market, inflight, service.TrackingOptions{
		Concurrency: cfg.Workflow.TrackingConcurrency,
		PollTimeout: cfg.Workflow.TrackingPollTimeout,
		MaxRetries:  cfg.Workflow.TrackingMaxRetries,
	}, logger)
	svc := service.NewWorkflowService(market, shipments, nil, inflight, nil, nil, cfg.Workflow.ActionTimeout, logger)

	ref := domain.OrderRef{Type: orderType, ID: id}
	fmt.Printf("🔍 Loading workflow for order %s\n\n", ref)

	ctx := context.Background()
	view, err := svc.View(ctx, ref, domain.Actor{Role: role, ID: "cli"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load order: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Status: %s\n", view.Order.Status)
	if view.FlowWarning != "" {
		fmt.Printf("⚠️  %s\n", view.FlowWarning)
	} else {
		fmt.Printf("Flow: %s\n", view.Flow)
	}
	fmt.Printf("Amount: %s paid of %s\n\n", view.Order.AmountPaid.StringFixed(2), view.Order.TotalAmount.StringFixed(2))

	fmt.Println("Timeline:")
	for _, e := range view.Timeline {
		mark := "  "
		if e.Completed {
			mark = "✅"
		}
		when := ""
		if e.Timestamp != nil {
			when = e.Timestamp.Format("2006-01-02 15:04")
		}
		fmt.Printf("  %s %-18s %s\n", mark, e.Step, when)
	}

	fmt.Println("\nDeposits:")
	for _, d := range view.Deposits {
		state := "unpaid"
		if d.Paid {
			state = "paid"
		}
		fmt.Printf("  #%d %s%% %s (%s)\n", d.DepositNumber, d.Percent.String(), d.Amount.StringFixed(2), state)
	}

	fmt.Println("\nShipments:")
	for _, s := range view.Shipments {
		code := "(not created)"
		if c, ok := s.OrderCode.Get(); ok {
			code = c
		}
		fmt.Printf("  %s: %s\n", s.ShipType, code)
	}

	fmt.Printf("\nPermitted actions for %s:\n", role)
	if len(view.PermittedActions) == 0 {
		fmt.Println("  (none)")
	}
	for _, a := range view.PermittedActions {
		fmt.Printf("  - %s\n", a)
	}

	snaps, err := svc.Tracking(ctx, ref)
	if err == nil && len(snaps) > 0 {
		fmt.Println("\nTracking:")
		for _, s := range snaps {
			fmt.Printf("  %s %s: %s\n", s.ShipType, s.OrderCode, s.Status)
		}
	}
}
