package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/smukkama/awair-bridge/internal/alarming"
	"github.com/smukkama/awair-bridge/internal/awair"
	"github.com/smukkama/awair-bridge/internal/bridge"
	"github.com/smukkama/awair-bridge/internal/device"
	"github.com/smukkama/awair-bridge/internal/queue"
	"github.com/smukkama/awair-bridge/internal/server"
	"github.com/smukkama/awair-bridge/internal/sink"
	"github.com/smukkama/awair-bridge/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Awair Bridge...")

	opts := bridge.OptionsFromConfig(&cfg.Awair)
	cloud := awair.NewCloudClient(cfg.Awair.CloudBaseURL, cfg.Awair.Token, cfg.Awair.UserType, opts.RequestTimeout)
	local := awair.NewLocalClient(opts.RequestTimeout)

	registry := device.NewRegistry(device.Filter{
		Ignored:     cfg.Awair.IgnoredDevices,
		Development: cfg.Awair.Development,
		MaxDevices:  cfg.Awair.MaxDevices,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Alarm and occupancy state survives restarts when Redis is configured
	var store alarming.StateStore = alarming.NewMemoryStore()
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		store = alarming.NewRedisStore(redisClient)
		fmt.Println("Connected to Redis")
	}
	arena := alarming.NewArena(store, opts.Thresholds)

	// latest values stay readable over HTTP when no external sink is enabled
	memory := sink.NewMemory(1000)
	out := sink.NewMulti(memory)
	defer out.Close()

	if cfg.Kafka.Enabled {
		if err := queue.EnsureTopics(
			cfg.Kafka.Brokers,
			[]string{cfg.Kafka.TopicCharacteristics, cfg.Kafka.TopicAlerts},
			cfg.Kafka.NumPartitions,
			1, // replication factor
		); err != nil {
			fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
		}
		updates := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCharacteristics)
		alerts := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
		out.Add(sink.NewKafka(updates, alerts))
		fmt.Printf("Kafka sink initialized (%s, %s)\n", updates.Topic(), alerts.Topic())
	}

	var mqttSink *sink.MQTT
	if cfg.MQTT.Enabled {
		mqttSink, err = sink.NewMQTT(sink.MQTTConfig{
			Broker:       cfg.MQTT.Broker,
			ClientID:     cfg.MQTT.ClientID,
			Username:     cfg.MQTT.Username,
			Password:     cfg.MQTT.Password,
			TopicPattern: cfg.MQTT.TopicPattern,
			QoS:          byte(cfg.MQTT.QoS),
			Retain:       cfg.MQTT.Retain,
		})
		if err != nil {
			log.Fatalf("Failed to connect to MQTT: %v", err)
		}
		out.Add(mqttSink)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b := bridge.New(cloud, local, out, registry, arena, opts).
		WithMetrics(bridge.NewMetrics(reg))

	if mqttSink != nil {
		if err := mqttSink.SubscribeCommands(func(cmd sink.Command) {
			cmdCtx, cmdCancel := context.WithTimeout(ctx, opts.RequestTimeout)
			defer cmdCancel()
			if _, err := b.HandleCommand(cmdCtx, cmd); err != nil {
				log.Printf("[%s] Command %s=%q failed: %v", cmd.Serial, cmd.Characteristic, cmd.Payload, err)
			}
		}); err != nil {
			log.Printf("Failed to subscribe to commands: %v", err)
		}
	}

	if err := b.Start(ctx); err != nil {
		log.Fatalf("Failed to start bridge: %v", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP.Port, b, reg, reg).WithState(memory)
		if err := httpServer.Start(); err != nil {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}

	// Print statistics periodically
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := registry.Stats()
				timerStats := b.SchedulerStats()
				fmt.Printf("\n--- Bridge Statistics ---\n")
				fmt.Printf("Devices: %d\n", stats.TotalDevices)
				fmt.Printf("Poll interval: %s\n", b.Policy().Interval)
				fmt.Printf("Scheduled Tasks: %d (fired %d)\n", timerStats.ScheduledTasks, timerStats.Fired)
				if stale := registry.Stale(3 * b.Policy().Interval); len(stale) > 0 {
					fmt.Printf("Stale devices: %v\n", stale)
				}
				fmt.Printf("-------------------------\n\n")
			}
		}
	}()

	fmt.Println("\n✓ Awair Bridge is running")
	fmt.Printf("✓ Tracking %d devices, polling every %s\n", registry.Count(), b.Policy().Interval)
	fmt.Printf("✓ Publishing to %d sinks\n", out.Len())
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		shutdownCancel()
	}
	b.Stop()
	fmt.Println("Awair Bridge stopped")
}
