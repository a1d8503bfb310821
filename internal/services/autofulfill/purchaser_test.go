package autofulfill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/FulfillBox/internal/integrations/shipping"
	shipfake "github.com/BearBump/FulfillBox/internal/integrations/shipping/fake"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
)

type fakeRepo struct {
	shipments map[uint64]*models.Shipment
	orders    map[uint64]*models.Order
	addresses map[uint64]*models.Address

	lockResult   pgstore.LockResult
	lockCalls    int
	releaseCalls int

	purchases  []pgstore.LabelPurchase
	exceptions map[uint64]string
	printJobs  []uint64
}

func newRepo() *fakeRepo {
	return &fakeRepo{
		shipments:  map[uint64]*models.Shipment{},
		orders:     map[uint64]*models.Order{},
		addresses:  map[uint64]*models.Address{},
		exceptions: map[uint64]string{},
	}
}

func (r *fakeRepo) AcquireLabelLock(_ context.Context, _ uint64) (pgstore.LockResult, error) {
	r.lockCalls++
	return r.lockResult, nil
}

func (r *fakeRepo) ReleaseLabelLock(_ context.Context, _ uint64) error {
	r.releaseCalls++
	return nil
}

func (r *fakeRepo) GetShipment(_ context.Context, id uint64) (*models.Shipment, error) {
	sh, ok := r.shipments[id]
	if !ok {
		return nil, pgstore.ErrShipmentNotFound
	}
	return sh, nil
}

func (r *fakeRepo) GetOrder(_ context.Context, id uint64) (*models.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, pgstore.ErrOrderNotFound
	}
	return o, nil
}

func (r *fakeRepo) DecryptAddress(sh *models.Shipment) (*models.Address, error) {
	a, ok := r.addresses[sh.ID]
	if !ok {
		return nil, pgstore.ErrNoStoredAddress
	}
	return a, nil
}

func (r *fakeRepo) RecordLabelPurchase(_ context.Context, p pgstore.LabelPurchase) error {
	r.purchases = append(r.purchases, p)
	sh := r.shipments[p.ShipmentID]
	sh.Status = models.ShipmentStatusLabelPurchased
	tn := p.TrackingNumber
	sh.TrackingNumber = &tn
	return nil
}

func (r *fakeRepo) MarkShipmentException(_ context.Context, shipmentID uint64, note string) error {
	r.exceptions[shipmentID] = note
	r.shipments[shipmentID].Status = models.ShipmentStatusException
	return nil
}

func (r *fakeRepo) EnqueuePrintJob(_ context.Context, shipmentID uint64, _ string) (uint64, error) {
	r.printJobs = append(r.printJobs, shipmentID)
	return uint64(len(r.printJobs)), nil
}

type capturedMsg struct {
	topic string
	key   []byte
	value []byte
}

type fakeProducer struct {
	msgs []capturedMsg
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	p.msgs = append(p.msgs, capturedMsg{topic: topic, key: key, value: value})
	return nil
}

type fakeLimiter struct {
	calls int
}

func (l *fakeLimiter) Allow(_ context.Context, _ string, _ int64, _ time.Duration) (bool, int64, error) {
	l.calls++
	return true, int64(l.calls), nil
}

func seedShipment(r *fakeRepo, id, orderID uint64) {
	r.shipments[id] = &models.Shipment{
		ID:                 id,
		MarketplaceOrderID: orderID,
		ShipmentSequence:   1,
		Status:             models.ShipmentStatusPending,
		AddressCiphertext:  []byte("ct"),
	}
	r.orders[orderID] = &models.Order{ID: orderID, ItemCount: 1, DisplayOrderNumber: "WN-20260801-1"}
	r.addresses[id] = &models.Address{Name: "Jane", Street1: "123 Main St", Zip: "78701"}
}

func newTestPurchaser(r *fakeRepo, provider shipping.Client, producer Producer) *Purchaser {
	pref := RatePreference{PreferredCarrier: "USPS", GroundService: "GroundAdvantage", SecondaryCarrier: "UPS"}
	return NewPurchaser(r, provider, producer, &fakeLimiter{}, "fulfillment.label_purchased", pref)
}

func TestPurchaseLabelHappyPath(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	producer := &fakeProducer{}
	p := newTestPurchaser(repo, shipfake.New(), producer)

	sh, err := p.PurchaseLabel(context.Background(), 10)
	require.NoError(t, err)

	require.NotNil(t, sh.TrackingNumber)
	require.Len(t, repo.purchases, 1)
	got := repo.purchases[0]
	assert.Equal(t, "USPS", got.Carrier)
	assert.Equal(t, "GroundAdvantage", got.Service, "preferred ground rate wins")
	assert.Equal(t, PresetCardMailer, got.ParcelPreset, "single item rides the card mailer")
	assert.NotEmpty(t, got.ProviderShipmentID)
	assert.NotEmpty(t, got.TrackingNumber)

	require.Len(t, repo.printJobs, 1, "a queued print job follows the purchase")
	require.Len(t, producer.msgs, 1)
	assert.Equal(t, "fulfillment.label_purchased", producer.msgs[0].topic)
	assert.Contains(t, string(producer.msgs[0].value), got.TrackingNumber)

	assert.Equal(t, 1, repo.releaseCalls, "lock release runs on the success path too")
	assert.Empty(t, repo.exceptions)
}

func TestPurchaseLabelLockHeld(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	repo.lockResult = pgstore.LockHeld
	p := newTestPurchaser(repo, shipfake.New(), &fakeProducer{})

	_, err := p.PurchaseLabel(context.Background(), 10)
	assert.ErrorIs(t, err, ErrPurchaseInProgress)
	assert.Empty(t, repo.purchases)
	assert.Zero(t, repo.releaseCalls, "a lock we never held is not released")
}

func TestPurchaseLabelAlreadyPurchased(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	repo.lockResult = pgstore.LockAlreadyPurchased
	p := newTestPurchaser(repo, shipfake.New(), &fakeProducer{})

	_, err := p.PurchaseLabel(context.Background(), 10)
	assert.ErrorIs(t, err, ErrAlreadyPurchased)
	assert.Empty(t, repo.purchases)
}

func TestPurchaseLabelRevalidatesState(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	repo.shipments[10].Status = models.ShipmentStatusShipped
	p := newTestPurchaser(repo, shipfake.New(), &fakeProducer{})

	_, err := p.PurchaseLabel(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNotPurchasable)
	assert.Equal(t, 1, repo.releaseCalls, "lock is released when validation fails")
	assert.Empty(t, repo.exceptions, "a skipped shipment is not an exception")
}

func TestPurchaseLabelProviderFailureMarksException(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	provider := shipfake.New()
	provider.FailBuy = true
	p := newTestPurchaser(repo, provider, &fakeProducer{})

	_, err := p.PurchaseLabel(context.Background(), 10)
	require.Error(t, err)

	note, ok := repo.exceptions[10]
	require.True(t, ok, "provider failure must mark the shipment exception")
	assert.Contains(t, note, "label purchase failed")
	assert.Equal(t, models.ShipmentStatusException, repo.shipments[10].Status)
	assert.Equal(t, 1, repo.releaseCalls)
	assert.Empty(t, repo.purchases)
}

func TestPurchaseLabelMissingAddress(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	delete(repo.addresses, 10)
	p := newTestPurchaser(repo, shipfake.New(), &fakeProducer{})

	_, err := p.PurchaseLabel(context.Background(), 10)
	assert.ErrorIs(t, err, pgstore.ErrNoStoredAddress)
	assert.Empty(t, repo.exceptions, "nothing was attempted at the provider")
	assert.Equal(t, 1, repo.releaseCalls)
}

func TestPurchaseLabelShipmentItemCountOverridesOrder(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	repo.orders[1].ItemCount = 1
	count := int32(4)
	repo.shipments[10].ItemCount = &count
	p := newTestPurchaser(repo, shipfake.New(), &fakeProducer{})

	_, err := p.PurchaseLabel(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, repo.purchases, 1)
	assert.Equal(t, PresetSmallBox, repo.purchases[0].ParcelPreset)
}
