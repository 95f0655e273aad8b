package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"authsvc/internal/config"
	"authsvc/internal/storage/mongodb"
	"authsvc/internal/storage/postgres"
	"authsvc/internal/storage/sqlite"
)

func main() {
	var configPath, driver string
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.StringVar(&driver, "driver", "", "storage driver to migrate, overrides storage.driver from config")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg := config.MustLoadPath(configPath)
	if driver == "" {
		driver = cfg.Storage.Driver
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch driver {
	case "sqlite":
		log.Println("Applying sqlite migrations...")

		storage, err := sqlite.New(cfg.Storage.SQLite.Path)
		if err != nil {
			log.Fatalf("failed to open sqlite: %v", err)
		}
		defer storage.Close()

		if err := storage.Migrate(); err != nil {
			log.Fatalf("failed to migrate sqlite: %v", err)
		}

	case "postgres":
		log.Println("Applying postgres migrations...")

		if err := postgres.Migrate(cfg.Storage.Postgres.URL); err != nil {
			log.Fatalf("failed to migrate postgres: %v", err)
		}

	case "mongodb":
		log.Println("Connecting to MongoDB...")

		storage, err := mongodb.New(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
		if err != nil {
			log.Fatalf("failed to connect to mongodb: %v", err)
		}
		defer storage.Close(ctx)

		log.Println("MongoDB connected, indexes created successfully")

	case "redis", "memory":
		log.Printf("%s storage has no schema, nothing to do", driver)

	default:
		log.Fatalf("unknown storage driver %q", driver)
	}

	fmt.Println("Database initialization completed successfully")
}
