package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"range-instance-backend/config"
	"range-instance-backend/internal/api"
	"range-instance-backend/internal/db"
	"range-instance-backend/internal/events"
	"range-instance-backend/internal/notification"
	"range-instance-backend/internal/orchestrator"
	"range-instance-backend/internal/provider"
	"range-instance-backend/internal/reaper"
	"range-instance-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "range-backend ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Provider.Token == "" {
		logger.Fatalf("provider.token must be configured")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	publisher, err := events.ConnectNats(cfg.Events.URL)
	if err != nil {
		logger.Fatalf("failed to connect to NATS at %s: %v", cfg.Events.URL, err)
	}
	defer publisher.Close()
	notifier := events.NewNotifier(publisher, cfg.Events.SubjectPrefix)
	logger.Println("progress channel connected")

	webpushOptions := &webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	var push orchestrator.PushDispatcher
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		push = pool
		logger.Println("push worker pool started")
	} else {
		logger.Println("VAPID keys not configured; terminal push notifications disabled")
	}

	gateway := provider.NewHCloudGateway(cfg.Provider)

	orch := orchestrator.New(appStore, gateway, notifier, push, cfg.Instance.TTL)
	facade := orchestrator.NewFacade(orch, appStore, notifier, cfg.Instance)

	reaperSvc := reaper.NewService(cfg.Reaper, appStore, orch)
	go reaperSvc.Run(ctx)

	router := api.NewRouter(&cfg.Server, facade, orch, appStore, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
