package main

import (
	"context"
	"fmt"
	"os"

	"github.com/woodmarket/orderflow/internal/config"
	"github.com/woodmarket/orderflow/internal/repository/postgres"
)

func main() {
	// goose command: up (default), down, status, version, redo, reset, up-to <v>, down-to <v>
	command := "up"
	var args []string
	if len(os.Args) > 1 {
		command = os.Args[1]
		args = os.Args[2:]
	}

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := postgres.NewConnection(dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(context.Background(), db, command, args...); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %q failed: %v\n", command, err)
		os.Exit(1)
	}

	fmt.Printf("Migration %q completed successfully!\n", command)
}
