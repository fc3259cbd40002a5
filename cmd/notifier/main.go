package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/awair-bridge/internal/notification"
	"github.com/smukkama/awair-bridge/internal/protocol"
	"github.com/smukkama/awair-bridge/internal/queue"
	"github.com/smukkama/awair-bridge/pkg/config"
)

const sendAttempts = 5

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Notification Service...")

	notifier := notification.NewEmailNotifier(&cfg.SMTP)

	// Test SMTP connection (optional, will skip if not configured)
	if err := notifier.TestConnection(); err != nil {
		fmt.Printf("Note: %v (notifications will be logged only)\n", err)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, []string{cfg.Kafka.TopicAlerts}, "notification-group")
	defer consumer.Close()
	fmt.Println("Kafka consumer initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("\n✓ Notification Service is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg, err := consumer.Consume(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Printf("Failed to consume message: %v\n", err)
				time.Sleep(time.Second)
				continue
			}

			alert, err := protocol.DecodeAlertEvent(msg.Value)
			if err != nil {
				log.Printf("Failed to decode alert: %v\n", err)
				consumer.Commit(ctx, msg)
				continue
			}

			if err := notifier.SendAlertRetry(ctx, alert, sendAttempts, time.Second); err != nil {
				if errors.Is(err, context.Canceled) {
					// left uncommitted, the group resumes here on restart
					return
				}
				// committed anyway, a later commit would move past it regardless
				log.Printf("[%s] Dropping %s alert %s after %d attempts: %v\n",
					alert.Device.Serial, alert.Metric, alert.EventID, sendAttempts, err)
			}

			if err := consumer.Commit(ctx, msg); err != nil {
				log.Printf("Failed to commit offset: %v\n", err)
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	<-done
	fmt.Println("Notification Service stopped")
}
