// Command setup applies the database schema. Run it once against a
// fresh database before starting the service.
package main

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/repository"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect DB: %v", err)
	}
	defer db.Close()

	if err := repository.ApplySchema(ctx, db); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}
	log.Println("schema applied")
}
