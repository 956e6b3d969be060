package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/config"
	"github.com/woodmarket/orderflow/internal/repository/postgres"
)

func main() {
	limit := 100
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n <= 0 {
			fmt.Println("Usage: go run cmd/list-audit/main.go [limit]")
			os.Exit(1)
		}
		limit = n
	}

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Initialize database
	db, err := postgres.NewConnection(dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repos := postgres.NewRepositories(db, logger)

	fmt.Println("📋 Latest workflow actions:")

	events, err := repos.WorkflowEvent.ListRecent(context.Background(), limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query audit log: %v\n", err)
		os.Exit(1)
	}

	for i, e := range events {
		fmt.Printf("Action #%d:\n", i+1)
		fmt.Printf("  Order: %s-%d\n", e.OrderType, e.OrderID)
		fmt.Printf("  Action: %s (%s)\n", e.Action, e.Outcome)
		fmt.Printf("  Actor: %s %s\n", e.ActorRole, e.ActorID)
		if e.ToStatus != nil {
			fmt.Printf("  Status: %s -> %s\n", e.FromStatus, *e.ToStatus)
		} else {
			fmt.Printf("  Status: %s\n", e.FromStatus)
		}
		if code, ok := e.EventData["carrier_code"]; ok {
			fmt.Printf("  Carrier code: %v\n", code)
		}
		if msg, ok := e.EventData["error"]; ok {
			fmt.Printf("  Error: %v\n", msg)
		}
		fmt.Printf("  At: %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}

	if len(events) == 0 {
		fmt.Println("❌ No workflow actions recorded yet.")
	} else {
		fmt.Printf("✅ Found %d action(s)\n", len(events))
	}
}
