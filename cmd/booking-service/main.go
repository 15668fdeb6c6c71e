package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	bookingapp "github.com/stayforge/reservation-system/internal/booking/application"
	bookinghttp "github.com/stayforge/reservation-system/internal/booking/infrastructure/http"
	bookingpg "github.com/stayforge/reservation-system/internal/booking/infrastructure/postgres"
	"github.com/stayforge/reservation-system/internal/config"
	invapp "github.com/stayforge/reservation-system/internal/inventory/application"
	invhttp "github.com/stayforge/reservation-system/internal/inventory/infrastructure/http"
	invkafka "github.com/stayforge/reservation-system/internal/inventory/infrastructure/kafka"
	invpg "github.com/stayforge/reservation-system/internal/inventory/infrastructure/postgres"
	paymenthttp "github.com/stayforge/reservation-system/internal/payment/infrastructure/http"
	"github.com/stayforge/reservation-system/internal/payment/infrastructure/provider"
	"github.com/stayforge/reservation-system/migrations"
	"github.com/stayforge/reservation-system/pkg/clock"
	"github.com/stayforge/reservation-system/pkg/idempotency"
	"github.com/stayforge/reservation-system/pkg/logging"
	"github.com/stayforge/reservation-system/pkg/outbox"
	"github.com/stayforge/reservation-system/pkg/shutdown"
	"github.com/stayforge/reservation-system/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.New(logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init("booking-service", cfg.JaegerURL)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	dedup := idempotency.NewStore(rdb, cfg.NotificationTTL)

	writer := invkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	clk := clock.NewSystem()

	ledgerRepo := invpg.NewRepository(log, pool)
	ledger := invapp.NewLedger(log, ledgerRepo, clk)

	outboxStore := invpg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.InventoryTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, "booking-service-relay")

	payments := provider.NewClient(log, cfg.Payment)

	bookingRepo := bookingpg.NewRepository(log, pool)
	bookings := bookingapp.NewService(log, bookingRepo, ledger, payments, clk, cfg.HoldTTL)
	sweeper := bookingapp.NewSweeper(log, bookings, clk, cfg.SweepInterval)

	r := chi.NewRouter()
	invhttp.NewHandler(log, ledger).Register(r)
	bookinghttp.NewHandler(log, bookings).Register(r)
	paymenthttp.NewWebhookHandler(log, bookings, dedup).Register(r)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("booking-service stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("booking-service shutdown complete")
}
