package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/api/fulfillapi"
	"github.com/BearBump/FulfillBox/internal/broker/kafka"
	"github.com/BearBump/FulfillBox/internal/cache/rediscache"
	"github.com/BearBump/FulfillBox/internal/importer"
	"github.com/BearBump/FulfillBox/internal/integrations/shipping"
	"github.com/BearBump/FulfillBox/internal/integrations/shipping/easypostv1"
	"github.com/BearBump/FulfillBox/internal/integrations/shipping/fake"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/pii"
	"github.com/BearBump/FulfillBox/internal/services/autofulfill"
	"github.com/BearBump/FulfillBox/internal/services/reconcile"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
)

type fulfillAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     fulfillAPIOpts
	api      *fulfillapi.API
	engine   *reconcile.Engine
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapFulfillAPI() *fulfillAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}

	httpAddr := cfg.FulfillBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.FulfillBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "fulfill-api"
	}
	trackingTopic := cfg.Kafka.TrackingEventsTopicName
	if trackingTopic == "" {
		trackingTopic = "tracking.events"
	}
	labelTopic := cfg.Kafka.LabelPurchasedTopicName
	if labelTopic == "" {
		labelTopic = "label.purchased"
	}

	cacheTTL := time.Duration(cfg.FulfillBox.OrderViewCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	cipher, err := pii.NewAESCipher(cfg.FulfillBox.PIIKeyHex)
	if err != nil {
		panic(fmt.Sprintf("bad pii key: %v", err))
	}

	st := mustOpenPostgresWithRetry(connString(cfg), cipher, 60*time.Second)
	if s := cfg.FulfillBox.LockStalenessSeconds; s > 0 {
		st = st.WithLockStaleness(time.Duration(s) * time.Second)
	}
	if d := cfg.FulfillBox.AddressRetentionDays; d > 0 {
		st = st.WithAddressRetention(time.Duration(d) * 24 * time.Hour)
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, trackingTopic, consumerGroup)

	// Manual purchases from the API go through the same purchaser as
	// the worker, lock and all.
	purchaser := autofulfill.NewPurchaser(st, newShippingClient(cfg), producer, rl, labelTopic, ratePreference(cfg)).
		WithRateLimit(int64(cfg.FulfillBox.ProviderRateLimitPerMinute))

	engine := reconcile.NewEngine(st, slog.Default())
	api := fulfillapi.New(st, importer.New(st), purchaser, engine).WithCache(rc, cacheTTL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &fulfillAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: fulfillAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         trackingTopic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		engine:   engine,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, cipher pii.Cipher, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString, cipher)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func newShippingClient(cfg *config.Config) shipping.Client {
	if cfg.FulfillBox.EasypostBaseURL != "" {
		return easypostv1.New(cfg.FulfillBox.EasypostBaseURL, cfg.FulfillBox.EasypostAPIKey, warehouseAddress())
	}
	return fake.New()
}

func warehouseAddress() models.Address {
	return models.Address{
		Name:    "BearBump Fulfillment",
		Street1: "2889 Ashby Ave",
		City:    "Berkeley",
		State:   "CA",
		Zip:     "94705",
		Country: "US",
	}
}

func ratePreference(cfg *config.Config) autofulfill.RatePreference {
	pref := autofulfill.RatePreference{
		PreferredCarrier: cfg.FulfillBox.PreferredCarrier,
		GroundService:    cfg.FulfillBox.GroundService,
		SecondaryCarrier: cfg.FulfillBox.SecondaryCarrier,
	}
	if pref.PreferredCarrier == "" {
		pref.PreferredCarrier = "USPS"
	}
	if pref.GroundService == "" {
		pref.GroundService = "GroundAdvantage"
	}
	if pref.SecondaryCarrier == "" {
		pref.SecondaryCarrier = "UPS"
	}
	return pref
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func (a *fulfillAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *fulfillAPIApp) Run() error {
	return runFulfillAPI(a.ctx, a.opts, a.api, a.engine, a.consumer)
}
