package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appcheckout "github.com/quickmeds/checkout/internal/application/checkout"
	"github.com/quickmeds/checkout/internal/application/fulfillment"
	apppayment "github.com/quickmeds/checkout/internal/application/payment"
	"github.com/quickmeds/checkout/internal/config"
	domcoupon "github.com/quickmeds/checkout/internal/domain/coupon"
	domstock "github.com/quickmeds/checkout/internal/domain/stock"
	"github.com/quickmeds/checkout/internal/infrastructure/gateway"
	httptransport "github.com/quickmeds/checkout/internal/infrastructure/http"
	"github.com/quickmeds/checkout/internal/infrastructure/id"
	"github.com/quickmeds/checkout/internal/infrastructure/memory"
	"github.com/quickmeds/checkout/internal/infrastructure/notification"
	infraobs "github.com/quickmeds/checkout/internal/infrastructure/observability"
	"github.com/quickmeds/checkout/internal/infrastructure/observability/oteltrace"
	"github.com/quickmeds/checkout/internal/infrastructure/observability/prometrics"
	"github.com/quickmeds/checkout/internal/infrastructure/observability/zaplogger"
	"github.com/quickmeds/checkout/internal/infrastructure/outbox"
	"github.com/quickmeds/checkout/internal/infrastructure/redisstock"
	"github.com/quickmeds/checkout/internal/observability"
	"github.com/quickmeds/checkout/internal/pkg/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	baseLogger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	tel := buildTelemetry(cfg.ServiceName, baseLogger)
	obsLogger := tel.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Repositories and stores.
	cartRepo := memory.NewCartRepository()
	paymentRepo := memory.NewPaymentRepository()
	orderRepo := memory.NewOrderRepository()
	walletStore := memory.NewWalletStore()
	couponStore := memory.NewCouponStore()

	ledger, err := buildLedger(ctx, cfg)
	if err != nil {
		systemLogger.Fatal("stock_ledger_init_failed", zap.Error(err))
	}
	seedWallets(cfg, walletStore, systemLogger)
	seedCoupons(couponStore)

	// Generators and the event bus.
	idGenerator := id.NewUUIDGenerator()
	numberGenerator := id.NewOrderNumberGenerator()

	bus := outbox.NewBus(obsLogger)
	bus.Start(ctx)
	defer bus.Stop(context.Background())

	notifier := notification.NewWorker(bus, obsLogger)
	notifier.Start()

	// Payment method adapters.
	gateways := apppayment.Gateways{
		Card:   gateway.NewCard(cfg.Gateway, tel),
		COD:    gateway.NewCOD(),
		Wallet: gateway.NewWallet(walletStore, idGenerator, cfg.Wallet, tel),
	}

	// Application layer.
	snapshotter := appcheckout.NewSnapshotter(ledger, couponStore, cfg.Pricing)
	engine := fulfillment.NewEngine(
		paymentRepo, orderRepo, cartRepo, ledger,
		idGenerator, numberGenerator, bus,
		cfg.Stock.MaxDecrementRetries, tel,
	)
	initiateUC := appcheckout.NewInitiateUseCase(cartRepo, paymentRepo, snapshotter, gateways, idGenerator, tel)
	verifyUC := apppayment.NewVerifyPaymentUseCase(paymentRepo, orderRepo, gateways, engine, tel)
	paymentSvc := apppayment.NewService(paymentRepo, cfg.AbandonAfter, tel)
	walletSvc := apppayment.NewWalletService(paymentRepo, gateways.Wallet, tel)

	handler := httptransport.NewHandler(
		initiateUC, verifyUC, paymentSvc, walletSvc,
		cartRepo, orderRepo,
		httptransport.ObservabilityMiddleware(tel),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
			zap.String("storage", cfg.Storage),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		systemLogger.Info("http_server_stopped")
	}
}

func buildTelemetry(serviceName string, baseLogger *zap.Logger) observability.Observability {
	reg := prometrics.New("", "")

	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: reg.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: reg.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests served.",
			"method", "route", "status",
		),
		observability.MGatewayRequests: reg.Counter(
			string(observability.MGatewayRequests),
			"Total number of remote gateway calls.",
			"peer", "endpoint", "outcome",
		),
		observability.MStockDecrementConflicts: reg.Counter(
			string(observability.MStockDecrementConflicts),
			"Compare-and-set stock decrements that lost the version race.",
			"item",
		),
		observability.MOrdersCreated: reg.Counter(
			string(observability.MOrdersCreated),
			"Orders written by the fulfillment engine, by outcome.",
			"outcome",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: reg.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: reg.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route",
		),
		observability.MGatewayRequestDuration: reg.Histogram(
			string(observability.MGatewayRequestDuration),
			"Duration of remote gateway calls in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint",
		),
	}

	return infraobs.New(
		oteltrace.New(serviceName),
		zaplogger.Wrap(baseLogger),
		counters,
		histograms,
	)
}

// buildLedger selects the stock ledger backend and applies the configured
// seeds.
func buildLedger(ctx context.Context, cfg *config.Config) (domstock.Ledger, error) {
	if cfg.Storage == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, err
		}
		ledger := redisstock.NewLedger(client)
		for _, seed := range cfg.SeedStock {
			if err := ledger.Seed(ctx, seed.ProductID, seed.VariantID, seed.Quantity); err != nil {
				return nil, err
			}
		}
		return ledger, nil
	}

	ledger := memory.NewStockLedger()
	for _, seed := range cfg.SeedStock {
		ledger.Seed(seed.ProductID, seed.VariantID, seed.Quantity)
	}
	return ledger, nil
}

func seedWallets(cfg *config.Config, store *memory.WalletStore, logger *zap.Logger) {
	for _, seed := range cfg.SeedWallets {
		balance, err := decimal.NewFromString(seed.Balance)
		if err != nil {
			logger.Warn("wallet_seed_skipped",
				zap.String("mobile", seed.Mobile),
				zap.Error(err),
			)
			continue
		}
		store.Seed(seed.Mobile, balance)
	}
}

func seedCoupons(store *memory.CouponStore) {
	store.Seed(domcoupon.Coupon{
		Code:        "WELCOME10",
		Kind:        domcoupon.KindPercent,
		Value:       decimal.RequireFromString("10"),
		MinSubtotal: decimal.RequireFromString("500.00"),
	})
	store.Seed(domcoupon.Coupon{
		Code:        "FLAT50",
		Kind:        domcoupon.KindFlat,
		Value:       decimal.RequireFromString("50.00"),
		MinSubtotal: decimal.RequireFromString("300.00"),
	})
}
