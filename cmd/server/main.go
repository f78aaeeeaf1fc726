package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	webAdapter "cylinder-billing/internal/adapters/web"
	"cylinder-billing/internal/app"
	"cylinder-billing/internal/config"
	"cylinder-billing/internal/core"
	"cylinder-billing/internal/db"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dir := core.NewUserDirectory(pool)
	customers := core.NewCustomerService(pool, dir)
	resyncer := core.NewBillResyncer(pool, logger)
	deliveries := core.NewDeliveryService(pool, customers, dir, resyncer, logger)
	bills := core.NewBillService(pool, customers, dir, logger, cfg.BillgenConcurrency)
	payments := core.NewPaymentService(pool, resyncer, logger)
	invoices := core.NewInvoiceService(pool, logger)
	logs := core.NewLogService(pool)

	svc := app.NewAppService(dir, customers, deliveries, bills, payments, invoices, logs)
	handler := webAdapter.NewHandler(svc, cfg.AllowedOrigins, cfg.JWTSecret, logger)

	logger.Info("server starting", "port", cfg.ServerPort)
	if err := http.ListenAndServe(":"+cfg.ServerPort, handler); err != nil {
		logger.Error("server", "error", err)
		os.Exit(1)
	}
}
