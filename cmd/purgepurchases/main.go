package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/codecraft-store/entitlement-api/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// purgepurchases removes synthetic purchases left behind by integration test
// runs, matched by id prefix (e.g. "FREE-test" or a dedicated marker).
func main() {
	prefix := flag.String("prefix", "", "Purchase id prefix to delete (required)")
	flag.Parse()

	if *prefix == "" {
		log.Fatal("-prefix is required; refusing to purge everything")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	logger, _ := zap.NewDevelopment()
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer pool.Close()

	repo := postgres.NewPurchaseRepository(pool, logger)

	deleted, err := repo.DeleteByIDPrefix(context.Background(), *prefix)
	if err != nil {
		log.Fatalf("Failed to purge purchases: %v", err)
	}

	fmt.Printf("Deleted %d purchases with id prefix %q\n", deleted, *prefix)
}
