package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/palengke/marketplace/internal/cart"
	"github.com/palengke/marketplace/internal/checkout"
	"github.com/palengke/marketplace/internal/config"
	httpdelivery "github.com/palengke/marketplace/internal/delivery/http"
	"github.com/palengke/marketplace/internal/identity"
	"github.com/palengke/marketplace/internal/inventory"
	"github.com/palengke/marketplace/internal/messaging"
	"github.com/palengke/marketplace/internal/notification"
	"github.com/palengke/marketplace/internal/orders"
	"github.com/palengke/marketplace/internal/store"
	"github.com/palengke/marketplace/internal/store/memory"
	mongostore "github.com/palengke/marketplace/internal/store/mongo"
	pgstore "github.com/palengke/marketplace/internal/store/postgres"
)

func main() {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Document store ---
	var docs store.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		docs = memory.New()
	case config.DriverMongo:
		ms, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			slog.Error("Failed to connect to MongoDB", "err", err)
			os.Exit(1)
		}
		defer ms.Close(context.Background())
		docs = ms
	case config.DriverPostgres:
		ps, err := pgstore.Open(cfg.PostgresDSN)
		if err != nil {
			slog.Error("Failed to open Postgres", "err", err)
			os.Exit(1)
		}
		defer ps.Close()
		docs = ps
	}
	slog.Info("Document store ready", "driver", cfg.StoreDriver)

	// --- Change-event broker ---
	wmLogger := watermill.NewSlogLogger(slog.Default())
	var broker messaging.Broker
	if len(cfg.KafkaBrokers) > 0 {
		broker, err = messaging.NewKafka(cfg.KafkaBrokers, wmLogger)
		if err != nil {
			slog.Error("Failed to connect to Kafka", "err", err)
			os.Exit(1)
		}
		slog.Info("Publishing change events to Kafka", "brokers", cfg.KafkaBrokers)
	} else {
		broker = messaging.NewGoChannel(wmLogger)
		slog.Info("Publishing change events in process")
	}
	defer broker.Close()

	published := messaging.NewPublishedStore(docs, broker)

	// --- Services ---
	ledger := inventory.NewLedger(published)
	cartSvc := cart.NewService(published)
	repo := orders.NewRepository(published)
	engine := orders.NewEngine(repo, ledger)
	writer := checkout.NewWriter(repo, ledger, cartSvc, cfg.ShippingFee)
	sub := orders.NewSubscription(repo, broker)
	feed := notification.NewFeed(repo, sub)

	// --- HTTP API ---
	handler := httpdelivery.NewHandler(identity.ContextProvider{}, ledger, cartSvc, writer, engine, repo, feed)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpdelivery.EnableCORS(httpdelivery.WithHeaderIdentity(mux)),
	}

	go func() {
		slog.Info("🚀 HTTP server starting", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")
	httpServer.Shutdown(context.Background())
}
