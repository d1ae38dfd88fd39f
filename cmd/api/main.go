package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hostpanel/platform/instance-service/internal/client"
	"github.com/hostpanel/platform/instance-service/internal/config"
	"github.com/hostpanel/platform/instance-service/internal/db"
	"github.com/hostpanel/platform/instance-service/internal/events"
	"github.com/hostpanel/platform/instance-service/internal/http"
	"github.com/hostpanel/platform/instance-service/internal/repository"
	"github.com/hostpanel/platform/instance-service/internal/service"
)

func main() {
	log.Println("Starting Instance Service...")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	pool, err := db.NewPool(cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Initialize repositories
	instanceRepo := repository.NewInstanceRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	// Initialize clients
	runtimeClient := client.NewRuntimeClient(cfg.Runtime.ServiceURL, cfg.Runtime.APIKey)
	authClient := client.NewAuthClient(cfg.Services.AuthServiceURL, cfg.InternalSecret)

	// Initialize event publisher (optional)
	var publisher service.TransitionPublisher = events.Noop{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := events.NewPublisher(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	// Initialize services
	lifecycleService, err := service.NewLifecycleService(cfg, instanceRepo, eventRepo, runtimeClient, publisher)
	if err != nil {
		log.Fatalf("Failed to initialize lifecycle service: %v", err)
	}

	syncService := service.NewSyncService(cfg, instanceRepo, eventRepo, runtimeClient, publisher)

	// Start the synchronizer
	syncCtx, stopSync := context.WithCancel(context.Background())
	go syncService.Run(syncCtx)

	// Initialize HTTP server
	handler := http.NewHandler(lifecycleService, syncService, authClient)
	server := http.NewServer(cfg, handler)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopSync()

	log.Println("Server exited")
}
