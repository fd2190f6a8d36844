package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/migrations"
)

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("PG_DSN is required")
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying migrations...")
	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	for _, name := range applied {
		fmt.Println("  applied", name)
	}

	fmt.Printf("→ Seeding company %d...\n", cfg.DemoCompanyID)
	logger := app.NewLogger(cfg)
	services := app.NewServices(cfg, app.PostgresBackend(cfg, pool, logger), nil, nil, logger)
	report, err := app.SeedDemo(ctx, services, cfg.DemoCompanyID, 1, time.Now().UTC())
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Printf("  periods=%d accounts=%d mappings=%d\n", report.Periods, report.Accounts, report.Mappings)

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}
