package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/reconcile"
)

type fakeResolver struct {
	seen     []models.TrackingRecord
	outcomes map[string]reconcile.Outcome
}

func (f *fakeResolver) Resolve(_ context.Context, rec models.TrackingRecord) (*reconcile.MatchResult, error) {
	f.seen = append(f.seen, rec)
	out, ok := f.outcomes[rec.TrackingNumber]
	if !ok {
		out = reconcile.OutcomeUnmatched
	}
	return &reconcile.MatchResult{Outcome: out}, nil
}

const shipmentsExportCSV = `id,tracking number,carrier,status,to_name,to_zip,reference,to_street1,to_city,to_state,to_country
trk_1,9400111,USPS,in transit,Jane Doe,78701,1001,123 Main St,Austin,TX,US
trk_2,9400222,USPS,delivered,Bob Roe,80202,,9 Elm Ave,Denver,CO,US
trk_3,9400333,UPS,pre_transit,Ann Poe,10001,,,,,
`

func TestImportTrackingShipmentsExport(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{outcomes: map[string]reconcile.Outcome{
		"9400111": reconcile.OutcomeAuto,
		"9400222": reconcile.OutcomeReview,
	}}
	im := New(store)

	sum, err := im.ImportTracking(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(shipmentsExportCSV), resolver, false)
	require.NoError(t, err)

	assert.Equal(t, FormatEasypostShipments, sum.Format)
	assert.Equal(t, int32(3), sum.RowCount)
	assert.Equal(t, int32(1), sum.AutoCount)
	assert.Equal(t, int32(1), sum.ReviewCount)
	assert.Equal(t, int32(1), sum.UnmatchedCount)
	assert.Equal(t, int32(1), sum.SuccessCount)
	assert.Equal(t, int32(2), sum.SkipCount)

	require.Len(t, resolver.seen, 3)
	first := resolver.seen[0]
	assert.Equal(t, "trk_1", first.TrackerID)
	assert.Equal(t, "9400111", first.TrackingNumber)
	assert.Equal(t, "in_transit", first.Status, "provider status is normalized")
	assert.Equal(t, "1001", first.OrderReference)
	assert.Equal(t, "78701", first.DestinationZip)
	require.NotNil(t, first.Address)
	assert.Equal(t, "123 Main St", first.Address.Street1)

	third := resolver.seen[2]
	assert.Nil(t, third.Address, "no address without a street line")

	require.Len(t, store.completions, 1)
}

func TestImportTrackingEventsExport(t *testing.T) {
	csv := `id,Tracking Number,Carrier,Status,Signed By,Order #,Datetime,to_name
evt_1,9400111,USPS,Delivered,JANE DOE,X-1,2026-08-10,Jane Doe
,9400222,USPS,in transit,,,2026-08-11,Bob Roe
`
	store := newFakeStore()
	resolver := &fakeResolver{}
	im := New(store)

	sum, err := im.ImportTracking(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(csv), resolver, false)
	require.NoError(t, err)

	assert.Equal(t, FormatEasypostEvents, sum.Format)
	require.Len(t, resolver.seen, 2)
	first := resolver.seen[0]
	assert.Equal(t, "delivered", first.Status)
	assert.Equal(t, "JANE DOE", first.CustomerName, "signed-by is the recipient on delivery scans")
	assert.Equal(t, "X-1", first.OrderReference)
	require.NotNil(t, first.EventTime)

	second := resolver.seen[1]
	assert.Equal(t, "Bob Roe", second.CustomerName, "falls back to to_name before the delivery scan")
	assert.Empty(t, second.OrderReference)
	assert.Empty(t, second.TrackerID, "tracker id may be absent on event rows")
	assert.Equal(t, int32(0), sum.ErrorCount)
}

func TestImportTrackingEventsWithoutDestinationColumns(t *testing.T) {
	// The thin events shape: no to_* columns at all. The signed-by name
	// and the explicit reference must still reach the match engine.
	csv := `Tracking Number,Carrier,Status,Signed By,Order #
9400111,USPS,Delivered,JANE DOE,X-1
`
	resolver := &fakeResolver{}
	im := New(newFakeStore())

	_, err := im.ImportTracking(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(csv), resolver, false)
	require.NoError(t, err)

	require.Len(t, resolver.seen, 1)
	assert.Equal(t, "JANE DOE", resolver.seen[0].CustomerName)
	assert.Equal(t, "X-1", resolver.seen[0].OrderReference)
}

func TestImportTrackingDryRunDoesNotResolve(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{}
	im := New(store)

	sum, err := im.ImportTracking(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(shipmentsExportCSV), resolver, true)
	require.NoError(t, err)

	assert.True(t, sum.DryRun)
	assert.Equal(t, int32(3), sum.SuccessCount)
	assert.Empty(t, resolver.seen, "dry run must not hit the match engine")
	assert.Empty(t, store.batches)
}

func TestImportTrackingRejectsOrderExport(t *testing.T) {
	im := New(newFakeStore())
	_, err := im.ImportTracking(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(shippingExportCSV), &fakeResolver{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order export")
}

func TestImportTrackingMissingTrackingNumberIsRowError(t *testing.T) {
	csv := `id,tracking number,carrier,status,to_name,to_zip,reference
trk_1,,USPS,in transit,Jane Doe,78701,
`
	store := newFakeStore()
	im := New(store)

	sum, err := im.ImportTracking(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(csv), &fakeResolver{}, false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), sum.ErrorCount)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, 2, sum.Errors[0].Row)
}
