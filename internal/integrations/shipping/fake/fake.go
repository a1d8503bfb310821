package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/BearBump/FulfillBox/internal/integrations/shipping"
	"github.com/BearBump/FulfillBox/internal/models"
)

// FakeClient is a deterministic in-memory postage provider for local
// runs and tests. Rates depend only on (zip, parcel preset), so the
// same input always quotes the same prices. BuyLabel honors the
// idempotency key: a replayed purchase returns the original label.
type FakeClient struct {
	mu     sync.Mutex
	seq    int
	byKey  map[string]shipping.Label
	rates  map[string]shipping.Rate
	parcel map[string]shipping.Parcel

	// FailBuy forces every purchase to fail; tests use it to exercise
	// the exception path.
	FailBuy bool
}

func New() *FakeClient {
	return &FakeClient{
		byKey:  map[string]shipping.Label{},
		rates:  map[string]shipping.Rate{},
		parcel: map[string]shipping.Parcel{},
	}
}

func (f *FakeClient) CreateShipment(_ context.Context, to models.Address, parcel shipping.Parcel) (shipping.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	id := fmt.Sprintf("shp_fake_%d", f.seq)
	f.parcel[id] = parcel

	h := fnv.New32a()
	_, _ = h.Write([]byte(to.Zip))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(parcel.Preset))
	base := int64(h.Sum32()%200) + 350 // 3.50 .. 5.49

	rates := []shipping.Rate{
		{ID: id + "_r1", Carrier: "USPS", Service: "GroundAdvantage", CostCents: base},
		{ID: id + "_r2", Carrier: "USPS", Service: "Priority", CostCents: base + 420},
		{ID: id + "_r3", Carrier: "UPS", Service: "Ground", CostCents: base + 180},
	}
	for _, r := range rates {
		f.rates[r.ID] = r
	}
	return shipping.Shipment{ID: id, Rates: rates}, nil
}

func (f *FakeClient) BuyLabel(_ context.Context, shipmentID, rateID, idempotencyKey string) (shipping.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if idempotencyKey != "" {
		if l, ok := f.byKey[idempotencyKey]; ok {
			return l, nil
		}
	}
	if f.FailBuy {
		return shipping.Label{}, fmt.Errorf("fake provider: purchase rejected")
	}
	rate, ok := f.rates[rateID]
	if !ok {
		return shipping.Label{}, fmt.Errorf("fake provider: unknown rate %s", rateID)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(shipmentID))
	tracking := fmt.Sprintf("9400%010d", h.Sum32())

	l := shipping.Label{
		ShipmentID:     shipmentID,
		RateID:         rate.ID,
		Carrier:        rate.Carrier,
		Service:        rate.Service,
		TrackingNumber: tracking,
		TrackingURL:    "https://track.example.com/" + tracking,
		LabelURL:       "https://labels.example.com/" + shipmentID + ".png",
		CostCents:      rate.CostCents,
	}
	if idempotencyKey != "" {
		f.byKey[idempotencyKey] = l
	}
	return l, nil
}
