package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/broker/kafka"
	"github.com/BearBump/FulfillBox/internal/cache/rediscache"
	"github.com/BearBump/FulfillBox/internal/integrations/shipping"
	"github.com/BearBump/FulfillBox/internal/integrations/shipping/easypostv1"
	"github.com/BearBump/FulfillBox/internal/integrations/shipping/fake"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/pii"
	"github.com/BearBump/FulfillBox/internal/services/autofulfill"
	"github.com/BearBump/FulfillBox/internal/services/retention"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
)

// workerStorage is what the worker needs from postgres: the purchase
// path, candidate selection, and the retention purge.
type workerStorage interface {
	autofulfill.Repository
	ListAutoFulfillCandidates(ctx context.Context, now time.Time, f pgstore.AutoFulfillFilter) ([]pgstore.Candidate, error)
	PurgeExpiredAddresses(ctx context.Context, now time.Time) (int64, error)
}

type workerFactories struct {
	newStorage        func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newProducer       func(cfg *config.Config) autofulfill.Producer
	newRateLimiter    func(cfg *config.Config) autofulfill.RateLimiter
	newShippingClient func(cfg *config.Config) shipping.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			cipher, err := pii.NewAESCipher(cfg.FulfillBox.PIIKeyHex)
			if err != nil {
				return nil, nil, err
			}
			st, err := pgstore.New(connString(cfg), cipher)
			if err != nil {
				return nil, nil, err
			}
			if s := cfg.FulfillBox.LockStalenessSeconds; s > 0 {
				st = st.WithLockStaleness(time.Duration(s) * time.Second)
			}
			if d := cfg.FulfillBox.AddressRetentionDays; d > 0 {
				st = st.WithAddressRetention(time.Duration(d) * 24 * time.Hour)
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) autofulfill.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) autofulfill.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newShippingClient: func(cfg *config.Config) shipping.Client {
			// A configured base URL selects the real EasyPost API.
			// Otherwise fall back to the local deterministic fake.
			if cfg.FulfillBox.EasypostBaseURL != "" {
				return easypostv1.New(cfg.FulfillBox.EasypostBaseURL, cfg.FulfillBox.EasypostAPIKey, warehouseAddress())
			}
			return fake.New()
		},
	}
}

// warehouseAddress is the fixed return address on every label.
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

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

type workerOpts struct {
	swaggerPath string
	onListen    func(httpAddr string)
}

func RunFulfillWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	topic := cfg.Kafka.LabelPurchasedTopicName
	if topic == "" {
		topic = "label.purchased"
	}

	pollInterval := time.Duration(cfg.FulfillBox.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	filter := pgstore.AutoFulfillFilter{
		MaxItemCount:  int32(cfg.FulfillBox.MaxAutoItemCount),
		MaxValueCents: cfg.FulfillBox.MaxAutoValueCents,
		MaxOrderAge:   time.Duration(cfg.FulfillBox.MaxAutoOrderAgeDays) * 24 * time.Hour,
		BatchSize:     cfg.FulfillBox.WorkerBatchSize,
	}
	if filter.MaxItemCount <= 0 {
		filter.MaxItemCount = 3
	}
	if filter.MaxValueCents <= 0 {
		filter.MaxValueCents = 4999
	}
	if filter.MaxOrderAge <= 0 {
		filter.MaxOrderAge = 7 * 24 * time.Hour
	}
	if filter.BatchSize <= 0 {
		filter.BatchSize = 5
	}
	purgeSpec := cfg.FulfillBox.PurgeCronSpec
	if purgeSpec == "" {
		purgeSpec = "17 3 * * *"
	}
	pref := ratePreference(cfg)

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	provider := f.newShippingClient(cfg)

	purchaser := autofulfill.NewPurchaser(st, provider, producer, rl, topic, pref).
		WithRateLimit(int64(cfg.FulfillBox.ProviderRateLimitPerMinute))
	w := autofulfill.NewWorker(st, purchaser).WithSettings(pollInterval, filter)

	purger, err := retention.New(st, purgeSpec)
	if err != nil {
		return err
	}
	purger.Start()
	defer purger.Stop()

	if addr := cfg.FulfillBox.WorkerHTTPAddr; addr != "" {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    addr,
				swaggerPath: opts.swaggerPath,
				onListen:    opts.onListen,
				worker:      w,
				purger:      purger,
				cfg:         cfg,
			})
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker admin server stopped", "error", err.Error())
			}
		}()
	}

	return w.Run(ctx)
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
