package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/awair-bridge/internal/database"
	"github.com/smukkama/awair-bridge/internal/queue"
	"github.com/smukkama/awair-bridge/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Recorder Service...")
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// One group member reads both topics so alerts and updates share a batch
	consumer := queue.NewConsumer(
		cfg.Kafka.Brokers,
		[]string{cfg.Kafka.TopicCharacteristics, cfg.Kafka.TopicAlerts},
		"recorder-group",
	)
	defer consumer.Close()
	fmt.Println("Kafka consumer created (registering with broker...)")

	batchWriter := queue.NewBatchWriter(consumer, db, 100, 5*time.Second).
		WithAlertsTopic(cfg.Kafka.TopicAlerts)
	batchWriter.Start(ctx)
	fmt.Println("Batch writer started")

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := consumer.Stats()
				written, failed := batchWriter.Stats()
				fmt.Printf("Consumer stats: Messages=%d, Bytes=%d, Errors=%d | Written=%d, Failed=%d\n",
					stats.Messages, stats.Bytes, stats.Errors, written, failed)
			}
		}
	}()

	fmt.Println("\n✓ Recorder Service is running")
	fmt.Printf("✓ Consuming %s and %s into PostgreSQL\n", cfg.Kafka.TopicCharacteristics, cfg.Kafka.TopicAlerts)
	fmt.Println("✓ Batch size: 100 messages | Flush interval: 5 seconds")
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	batchWriter.Stop()
	fmt.Println("Recorder Service stopped")
}
