package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/aidmatch/internal/api"
	"github.com/punchamoorthee/aidmatch/internal/config"
	"github.com/punchamoorthee/aidmatch/internal/consumer"
	"github.com/punchamoorthee/aidmatch/internal/directory"
	"github.com/punchamoorthee/aidmatch/internal/domain"
	"github.com/punchamoorthee/aidmatch/internal/mq"
	"github.com/punchamoorthee/aidmatch/internal/notify"
	"github.com/punchamoorthee/aidmatch/internal/obs"
	"github.com/punchamoorthee/aidmatch/internal/outbox"
	"github.com/punchamoorthee/aidmatch/internal/service"
	"github.com/punchamoorthee/aidmatch/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	if cfg.Production() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("starting aidmatch", "environment", cfg.Env, "port", cfg.Port, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, "aidmatch", cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	dir := directory.New(st, cfg.FallbackProviderID)
	if _, err := dir.FindFallbackProvider(ctx); err != nil {
		slog.Error("fallback provider unusable", "provider_id", cfg.FallbackProviderID, "error", err)
		os.Exit(1)
	}

	var gw notify.Gateway = notify.LogGateway{}
	if len(cfg.KafkaBrokers) > 0 {
		kg := notify.NewKafkaGateway(cfg.KafkaBrokers, cfg.NotificationTopic)
		defer kg.Close()
		gw = kg
		slog.Info("notifications via kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.NotificationTopic)
	}

	coord := service.NewCoordinator(st, gw, dir)

	var dispatcher outbox.Dispatcher = service.MatchDispatcher{Coordinator: coord}
	if cfg.RabbitURL != "" {
		pub, err := mq.NewPublisher(cfg.RabbitURL, cfg.MatchExchange)
		if err != nil {
			slog.Error("failed to create publisher", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		dispatcher = pub

		cons, err := mq.NewConsumer(cfg.RabbitURL, cfg.MatchExchange, cfg.MatchQueue, []string{domain.TopicMatchRequested})
		if err != nil {
			slog.Error("failed to create consumer", "error", err)
			os.Exit(1)
		}
		defer cons.Close()
		if err := consumer.NewMatchConsumer(coord, cons).Run(ctx); err != nil {
			slog.Error("failed to start match consumer", "error", err)
			os.Exit(1)
		}
		slog.Info("match requests via rabbitmq", "exchange", cfg.MatchExchange, "queue", cfg.MatchQueue)
	}

	relay := outbox.NewRelay(st, dispatcher, cfg.OutboxBatch)
	go relay.Run(ctx, cfg.OutboxInterval)

	settle := service.NewSettlement(st, gw, relay)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewHandler(st, settle, coord, dir).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		// local runs only: the platform provider is seeded so matching can fall back
		st := store.NewMemoryStore()
		st.PutProfile(domain.Profile{ID: "platform", UserID: "platform"})
		st.PutWallet(domain.Wallet{ProfileID: "platform"})
		st.PutProvider(domain.Provider{ID: cfg.FallbackProviderID, ProfileID: "platform"})
		return st, nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}
