package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/cart/poller"
	"github.com/fjod/storefront/internal/cart/service"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/events"
	inventorygrpc "github.com/fjod/storefront/internal/grpc"
	h "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/inventory/store"
	"github.com/fjod/storefront/internal/kafkautil"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/publisher"
	"github.com/fjod/storefront/internal/telemetry"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(config.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("storefront_stopped_with_error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("storefront_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing_shutdown_failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	// Background work stops before the backends close.
	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBg()
	bg, bgCtx := errgroup.WithContext(bgCtx)

	bus := events.NewBus(log, m)
	events.NewLogSubscriber(log).Register(bus)
	bus.Start(bgCtx)

	inventory := store.NewObserved(b.inventory, bus, m, log)
	lookup := catalog.NewLookup(b.catalog, inventory, cfg.CatalogTimeout)
	if err := seedStock(ctx, cfg, b, log); err != nil {
		return err
	}

	carts := service.NewCartService(b.carts, b.cartCache, lookup, log, m, cfg.StorageTimeout)
	checkoutSvc := checkout.NewService(
		carts,
		lookup,
		inventory,
		b.orders,
		b.locker,
		bus,
		checkout.Timeouts{Storage: cfg.StorageTimeout, Release: cfg.ReleaseTimeout},
		log,
		m,
	)

	if len(cfg.KafkaBrokers) > 0 {
		outbox := publisher.NewOutboxPoller(b.orders, kafkautil.NewWriter(config.OrdersTopic, cfg.KafkaBrokers...), nil, log, m)
		cartClear := poller.NewPoller(carts, kafkautil.NewReader(config.OrdersTopic, config.CartClearGroupID, cfg.KafkaBrokers...), log)
		bg.Go(func() error {
			outbox.Run(bgCtx)
			return outbox.Close()
		})
		bg.Go(func() error {
			cartClear.Run(bgCtx)
			cartClear.Close()
			return nil
		})
		log.Info("kafka_enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", config.OrdersTopic))
	}

	router := h.NewRouter(h.Handlers{
		Cart:     h.NewCartHandler(carts, cfg.RequestTimeout),
		Checkout: h.NewCheckoutHandler(checkoutSvc, cfg.RequestTimeout),
		Orders:   h.NewOrdersHandler(b.orders, cfg.RequestTimeout),
		Variants: h.NewVariantHandler(lookup, cfg.RequestTimeout),
		Stock:    h.NewStockHandler(inventory, cfg.RequestTimeout),
	}, h.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		Metrics:            promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcSrv, healthSrv := inventorygrpc.NewServer(inventorygrpc.NewInventoryServiceServer(inventory, cfg.StorageTimeout), log)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}

	servers, sctx := errgroup.WithContext(ctx)
	servers.Go(func() error {
		log.Info("http_server_starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	servers.Go(func() error {
		log.Info("grpc_server_starting", zap.String("addr", lis.Addr().String()))
		return grpcSrv.Serve(lis)
	})
	servers.Go(func() error {
		<-sctx.Done()
		log.Info("shutting_down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		healthSrv.Shutdown()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	serveErr := servers.Wait()

	cancelBg()
	if err := bg.Wait(); err != nil {
		log.Warn("background_shutdown_failed", zap.Error(err))
	}
	bus.Stop()
	return serveErr
}

// seedStock gives every catalog variant stock when the ledger is in memory.
func seedStock(ctx context.Context, cfg *config.Config, b *backends, log *zap.Logger) error {
	if b.seed == nil {
		return nil
	}
	variants, err := b.catalog.ListVariants(ctx)
	if err != nil {
		return fmt.Errorf("list catalog variants: %w", err)
	}
	for _, v := range variants {
		if err := b.seed.SetStock(ctx, v.ID, int32(cfg.SeedStockQuantity)); err != nil {
			return fmt.Errorf("seed stock for %s: %w", v.ID, err)
		}
	}
	log.Info("stock_seeded", zap.Int("variants", len(variants)), zap.Int("quantity", cfg.SeedStockQuantity))
	return nil
}
