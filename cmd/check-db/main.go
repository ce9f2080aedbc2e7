// Package main is a diagnostic tool for database connectivity and audit volume. It
// connects with the server's configuration, prints the schema version and record
// counts, and exits non-zero on any failure so it can gate deployments.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/api-monitor/api-monitor/internal/config"
	"github.com/api-monitor/api-monitor/internal/db"
	"github.com/api-monitor/api-monitor/internal/db/repositories"
	"github.com/jmoiron/sqlx"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 4, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, table := range []string{"users", "items", "activity_logs", "error_logs"} {
		var n int64
		if err := database.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil { // #nosec G202 -- table names are constants
			log.Fatalf("Count %s failed: %v", table, err)
		}
		fmt.Printf("%-14s %d\n", table, n)
	}

	stats, err := repositories.NewAuditRepository(sqlx.NewDb(database, "postgres")).CountActivityByAction(ctx)
	if err != nil {
		log.Fatalf("Activity stats failed: %v", err)
	}
	fmt.Println("\n=== ACTIVITY BY ACTION ===")
	for _, s := range stats {
		fmt.Printf("%-16s %d\n", s.Action, s.Total)
	}
}
