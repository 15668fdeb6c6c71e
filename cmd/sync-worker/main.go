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
	bookingpg "github.com/stayforge/reservation-system/internal/booking/infrastructure/postgres"
	"github.com/stayforge/reservation-system/internal/channel/adapter"
	chanapp "github.com/stayforge/reservation-system/internal/channel/application"
	chanhttp "github.com/stayforge/reservation-system/internal/channel/infrastructure/http"
	chankafka "github.com/stayforge/reservation-system/internal/channel/infrastructure/kafka"
	chanpg "github.com/stayforge/reservation-system/internal/channel/infrastructure/postgres"
	"github.com/stayforge/reservation-system/internal/config"
	invapp "github.com/stayforge/reservation-system/internal/inventory/application"
	invpg "github.com/stayforge/reservation-system/internal/inventory/infrastructure/postgres"
	"github.com/stayforge/reservation-system/internal/payment/infrastructure/provider"
	"github.com/stayforge/reservation-system/migrations"
	"github.com/stayforge/reservation-system/pkg/clock"
	"github.com/stayforge/reservation-system/pkg/idempotency"
	"github.com/stayforge/reservation-system/pkg/logging"
	"github.com/stayforge/reservation-system/pkg/shutdown"
	"github.com/stayforge/reservation-system/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.New(logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init("sync-worker", cfg.JaegerURL)
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
	idem := idempotency.NewStore(rdb, cfg.DedupTTL)

	clk := clock.NewSystem()

	adapters := adapter.NewRegistry(
		adapter.NewStayhub(cfg.Adapters.StayhubBaseURL, cfg.Adapters.Timeout),
		adapter.NewRoomgrid(cfg.Adapters.RoomgridBaseURL, cfg.Adapters.Timeout),
	)

	syncRepo := chanpg.NewRepository(log, pool)
	enqueuer := chanapp.NewEnqueuer(log, syncRepo, clk)
	dispatcher := chanapp.NewDispatcher(log, syncRepo, adapters, clk, cfg.Sync)
	operator := chanapp.NewOperator(log, syncRepo, clk)

	// Inbound channel bookings go through the regular booking service so
	// they hit the same occupy path and validation as direct bookings.
	ledgerRepo := invpg.NewRepository(log, pool)
	ledger := invapp.NewLedger(log, ledgerRepo, clk)
	payments := provider.NewClient(log, cfg.Payment)
	bookingRepo := bookingpg.NewRepository(log, pool)
	bookings := bookingapp.NewService(log, bookingRepo, ledger, payments, clk, cfg.HoldTTL)

	ingestor := chanapp.NewIngestor(log, syncRepo, adapters, bookings, clk)
	puller := chanapp.NewPuller(log, syncRepo, adapters, ingestor, clk, cfg.Sync)

	consumer := chankafka.NewConsumer(log, cfg.KafkaBrokers, cfg.InventoryTopic, cfg.ConsumerGroup, enqueuer, idem)

	r := chi.NewRouter()
	chanhttp.NewHandler(log, ingestor, operator, adapters).Register(r)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         cfg.SyncHTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return puller.Run(ctx) })
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.SyncHTTPAddr)
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
		log.Error("sync-worker stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("sync-worker shutdown complete")
}
