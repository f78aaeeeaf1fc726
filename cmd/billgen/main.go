package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cylinder-billing/internal/config"
	"cylinder-billing/internal/core"
	"cylinder-billing/internal/db"
)

// billgen generates the monthly bills for one tenant from the command line,
// for operators running the cycle outside the HTTP API.
func main() {
	tenantID := flag.Int64("tenant", 0, "owner user id of the tenant to bill")
	month := flag.String("month", "", "billing month in YYYY-MM form")
	flag.Parse()

	if *tenantID < 1 || *month == "" {
		fmt.Fprintln(os.Stderr, "usage: billgen -tenant <owner-id> -month YYYY-MM")
		os.Exit(2)
	}

	start, err := time.Parse("2006-01", *month)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid month %q: %v\n", *month, err)
		os.Exit(2)
	}
	end := start.AddDate(0, 1, -1)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	dir := core.NewUserDirectory(pool)
	customers := core.NewCustomerService(pool, dir)
	bills := core.NewBillService(pool, customers, dir, logger, cfg.BillgenConcurrency)

	p := core.Principal{UserID: *tenantID, Role: core.RoleOwner}
	result, err := bills.GenerateBills(ctx, p, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("created %d bills, skipped %d customers\n", result.Created, result.Skipped)
	for _, f := range result.Failures {
		fmt.Printf("failed customer %d: %s\n", f.CustomerID, f.Reason)
	}
}
