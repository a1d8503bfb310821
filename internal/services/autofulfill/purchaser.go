package autofulfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/integrations/shipping"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
)

var (
	// ErrPurchaseInProgress: another actor holds the label lock.
	ErrPurchaseInProgress = errors.New("label purchase already in progress")
	// ErrAlreadyPurchased: the shipment already has a tracking number.
	ErrAlreadyPurchased = errors.New("shipment already has a label")
	// ErrNotPurchasable: the shipment left the pending state.
	ErrNotPurchasable = errors.New("shipment is not in a purchasable state")
)

type Repository interface {
	AcquireLabelLock(ctx context.Context, shipmentID uint64) (pgstore.LockResult, error)
	ReleaseLabelLock(ctx context.Context, shipmentID uint64) error
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	GetOrder(ctx context.Context, id uint64) (*models.Order, error)
	DecryptAddress(sh *models.Shipment) (*models.Address, error)
	RecordLabelPurchase(ctx context.Context, p pgstore.LabelPurchase) error
	MarkShipmentException(ctx context.Context, shipmentID uint64, note string) error
	EnqueuePrintJob(ctx context.Context, shipmentID uint64, labelURL string) (uint64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Purchaser runs one label purchase end to end under the durable lock.
// Used by both the auto-fulfill worker and the manual purchase endpoint.
type Purchaser struct {
	repo     Repository
	provider shipping.Client
	producer Producer
	rl       RateLimiter

	topic string
	pref  RatePreference

	rateLimitPerMinute int64
}

func NewPurchaser(repo Repository, provider shipping.Client, producer Producer, rl RateLimiter, topic string, pref RatePreference) *Purchaser {
	return &Purchaser{
		repo:               repo,
		provider:           provider,
		producer:           producer,
		rl:                 rl,
		topic:              topic,
		pref:               pref,
		rateLimitPerMinute: 60,
	}
}

func (p *Purchaser) WithRateLimit(perMinute int64) *Purchaser {
	if perMinute > 0 {
		p.rateLimitPerMinute = perMinute
	}
	return p
}

// PurchaseLabel acquires the lock, re-validates, buys, records, and
// releases. The lock clears on every exit path; a crash mid-call is
// covered by the staleness window. A provider failure marks the
// shipment exception; nothing retries it without an operator.
func (p *Purchaser) PurchaseLabel(ctx context.Context, shipmentID uint64) (*models.Shipment, error) {
	res, err := p.repo.AcquireLabelLock(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	switch res {
	case pgstore.LockAlreadyPurchased:
		return nil, ErrAlreadyPurchased
	case pgstore.LockHeld:
		return nil, ErrPurchaseInProgress
	}
	// RecordLabelPurchase clears the lock itself; the deferred release
	// covers every other exit path and is a no-op after success.
	defer func() {
		if err := p.repo.ReleaseLabelLock(context.WithoutCancel(ctx), shipmentID); err != nil {
			slog.Error("release label lock", "shipment_id", shipmentID, "error", err.Error())
		}
	}()

	// State may have moved between the candidate query and the lock.
	sh, err := p.repo.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if sh.Status != models.ShipmentStatusPending || !sh.Eligible() {
		return nil, ErrNotPurchasable
	}

	order, err := p.repo.GetOrder(ctx, sh.MarketplaceOrderID)
	if err != nil {
		return nil, err
	}

	addr, err := p.repo.DecryptAddress(sh)
	if err != nil {
		return nil, err
	}

	p.throttle(ctx)

	itemCount := order.ItemCount
	if sh.ItemCount != nil && *sh.ItemCount > 0 {
		itemCount = *sh.ItemCount
	}
	parcel := PresetForItemCount(itemCount)

	label, err := p.buy(ctx, *addr, parcel)
	if err != nil {
		note := fmt.Sprintf("label purchase failed: %s", err.Error())
		if markErr := p.repo.MarkShipmentException(context.WithoutCancel(ctx), shipmentID, note); markErr != nil {
			slog.Error("mark shipment exception", "shipment_id", shipmentID, "error", markErr.Error())
		}
		return nil, err
	}

	if err := p.repo.RecordLabelPurchase(ctx, pgstore.LabelPurchase{
		ShipmentID:         shipmentID,
		ProviderShipmentID: label.ShipmentID,
		ProviderRateID:     label.RateID,
		Carrier:            label.Carrier,
		Service:            label.Service,
		TrackingNumber:     label.TrackingNumber,
		TrackingURL:        label.TrackingURL,
		LabelURL:           label.LabelURL,
		LabelCostCents:     label.CostCents,
		ParcelPreset:       parcel.Preset,
	}); err != nil {
		return nil, err
	}

	printJobID, err := p.repo.EnqueuePrintJob(ctx, shipmentID, label.LabelURL)
	if err != nil {
		// The purchase is durable; a print-queue hiccup is not fatal.
		slog.Error("enqueue print job", "shipment_id", shipmentID, "error", err.Error())
	}

	p.publish(ctx, messages.LabelPurchased{
		ShipmentID:     shipmentID,
		OrderID:        order.ID,
		Carrier:        label.Carrier,
		Service:        label.Service,
		TrackingNumber: label.TrackingNumber,
		LabelURL:       label.LabelURL,
		LabelCostCents: label.CostCents,
		PrintJobID:     printJobID,
		PurchasedAt:    time.Now().UTC(),
	})

	return p.repo.GetShipment(ctx, shipmentID)
}

func (p *Purchaser) buy(ctx context.Context, to models.Address, parcel shipping.Parcel) (shipping.Label, error) {
	quote, err := p.provider.CreateShipment(ctx, to, parcel)
	if err != nil {
		return shipping.Label{}, errors.Wrap(err, "create provider shipment")
	}
	rate, ok := ChooseRate(quote.Rates, p.pref)
	if !ok {
		return shipping.Label{}, errors.New("provider returned no rates")
	}
	label, err := p.provider.BuyLabel(ctx, quote.ID, rate.ID, uuid.NewString())
	if err != nil {
		return shipping.Label{}, errors.Wrap(err, "buy label")
	}
	return label, nil
}

func (p *Purchaser) throttle(ctx context.Context) {
	if p.rl == nil || p.rateLimitPerMinute <= 0 {
		return
	}
	now := time.Now().UTC()
	key := fmt.Sprintf("rl:easypost:%s", now.Format("200601021504"))
	allowed, n, err := p.rl.Allow(ctx, key, p.rateLimitPerMinute, 70*time.Second)
	if err != nil {
		slog.Warn("rate limiter unavailable", "error", err.Error())
		return
	}
	if !allowed {
		slog.Warn("provider rate limit exceeded", "count", n)
		time.Sleep(500 * time.Millisecond)
	}
}

func (p *Purchaser) publish(ctx context.Context, msg messages.LabelPurchased) {
	if p.producer == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal label purchased", "error", err.Error())
		return
	}
	key := []byte(fmt.Sprintf("%d", msg.ShipmentID))
	var pubErr error
	for i := 0; i < 5; i++ {
		if pubErr = p.producer.Publish(ctx, p.topic, key, b); pubErr == nil {
			return
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	slog.Error("publish label purchased", "shipment_id", msg.ShipmentID, "error", pubErr.Error())
}
