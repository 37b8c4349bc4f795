package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"ordersync/config"
	"ordersync/pkg/database"
)

const usage = `
ordersync - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Run all SQL migrations
  status      Show database connection and table status

Flags:
  -migrations string   Path to migrations directory (default "migrations")

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
`

func main() {
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	switch command {
	case "up":
		log.Println("Running migrations...")
		if err := database.ApplyMigrations(ctx, db, *migrationsDir); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	case "status":
		if err := database.HealthCheck(ctx, db); err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		log.Println("Database connection: OK")

		tables := []string{"inbound_events", "processing_records", "orders", "payments", "reconciliation_findings"}
		for _, table := range tables {
			exists, err := database.TableExists(ctx, db, table)
			if err != nil {
				log.Printf("Error checking table %s: %v", table, err)
				continue
			}
			if exists {
				log.Printf("Table %-24s exists", table)
			} else {
				log.Printf("Table %-24s does not exist", table)
			}
		}
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
