package importer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
)

type fakeStore struct {
	existing map[string]bool
	created  []models.CreateOrderInput

	batches     []string
	completions []pgstore.BatchCompletion
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: map[string]bool{}}
}

func (f *fakeStore) OrderExists(_ context.Context, source, externalOrderID string) (bool, error) {
	return f.existing[source+"/"+externalOrderID], nil
}

func (f *fakeStore) CreateOrder(_ context.Context, in models.CreateOrderInput) (*models.Order, error) {
	f.created = append(f.created, in)
	f.existing[in.Source+"/"+in.ExternalOrderID] = true
	return &models.Order{ID: uint64(len(f.created)), Source: in.Source, ExternalOrderID: in.ExternalOrderID}, nil
}

func (f *fakeStore) CreateImportBatch(_ context.Context, _, format, _, _ string) (*models.ImportBatch, error) {
	f.batches = append(f.batches, format)
	return &models.ImportBatch{ID: uint64(len(f.batches)), Format: format}, nil
}

func (f *fakeStore) CompleteImportBatch(_ context.Context, c pgstore.BatchCompletion) error {
	f.completions = append(f.completions, c)
	return nil
}

const shippingExportCSV = `Order #,Buyer,Order Date,Item Count,Product Value,Shipping Fee,Street Address,Street Address 2,City,State,Zip,Country
1001,Jane Doe,2026-08-01,2,$45.00,$4.99,123 Main St,,Austin,TX,78701,US
1002,Bob Roe,2026-08-01,1,12.50,4.99,9 Elm Ave,Apt 2,Denver,CO,80202,US
1003,No Address,2026-08-01,1,5.00,4.99,,,,,,
`

func TestImportOrdersShippingExport(t *testing.T) {
	store := newFakeStore()
	im := New(store)

	sum, err := im.ImportOrders(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(shippingExportCSV), false)
	require.NoError(t, err)

	assert.Equal(t, FormatWhatnotShippingExport, sum.Format)
	assert.Equal(t, int32(3), sum.RowCount)
	assert.Equal(t, int32(2), sum.SuccessCount)
	assert.Equal(t, int32(0), sum.SkipCount)
	assert.Equal(t, int32(1), sum.ErrorCount)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, 4, sum.Errors[0].Row)
	assert.Contains(t, sum.Errors[0].Reason, "address")

	require.Len(t, store.created, 2)
	first := store.created[0]
	assert.Equal(t, "1001", first.ExternalOrderID)
	assert.Equal(t, "Jane Doe", first.CustomerName)
	assert.Equal(t, int32(2), first.ItemCount)
	assert.Equal(t, int64(4500), first.ProductValueCents)
	assert.Equal(t, int64(499), first.ShippingFeeCents)
	require.NotNil(t, first.Address)
	assert.Equal(t, "78701", first.Address.Zip)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), first.OrderDate)

	require.Len(t, store.completions, 1)
	assert.Equal(t, int32(2), store.completions[0].SuccessCount)
	assert.False(t, store.completions[0].Failed)
	require.NotNil(t, store.completions[0].ErrorDetailsJSON)
	assert.Contains(t, *store.completions[0].ErrorDetailsJSON, "incomplete address")
}

func TestImportOrdersSkipsExisting(t *testing.T) {
	store := newFakeStore()
	store.existing[models.SourceWhatnot+"/1001"] = true
	im := New(store)

	sum, err := im.ImportOrders(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(shippingExportCSV), false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), sum.SkipCount)
	assert.Equal(t, int32(1), sum.SuccessCount)
	require.Len(t, store.created, 1)
	assert.Equal(t, "1002", store.created[0].ExternalOrderID)
}

func TestImportOrdersDryRun(t *testing.T) {
	store := newFakeStore()
	im := New(store)

	sum, err := im.ImportOrders(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(shippingExportCSV), true)
	require.NoError(t, err)

	assert.True(t, sum.DryRun)
	assert.Equal(t, int32(2), sum.SuccessCount)
	assert.Zero(t, sum.BatchID)
	assert.Empty(t, store.created, "dry run must not write orders")
	assert.Empty(t, store.batches, "dry run must not open a batch")
	assert.Empty(t, store.completions)
}

func TestImportOrdersOrderList(t *testing.T) {
	csv := `Order #,Buyer,Order Date,Order Total
2001,Jane Doe,08/02/2026,$30.00
`
	store := newFakeStore()
	im := New(store)

	sum, err := im.ImportOrders(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(csv), false)
	require.NoError(t, err)

	assert.Equal(t, FormatWhatnotOrderList, sum.Format)
	require.Len(t, store.created, 1)
	assert.Nil(t, store.created[0].Address, "order list carries no address")
	assert.Equal(t, int64(3000), store.created[0].ProductValueCents)
	assert.Equal(t, time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), store.created[0].OrderDate)
}

func TestImportOrdersPullSheetAggregates(t *testing.T) {
	csv := `Order #,Buyer,Card Name,Order Quantity,Price,Order Date
3001,Jane Doe,Pikachu,2,$5.00,2026-08-03
3001,Jane Doe,Charizard,1,$20.00,2026-08-03
3002,Bob Roe,Mewtwo,1,$8.00,2026-08-03
`
	store := newFakeStore()
	im := New(store)

	sum, err := im.ImportOrders(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(csv), false)
	require.NoError(t, err)

	assert.Equal(t, FormatWhatnotPullSheet, sum.Format)
	require.Len(t, store.created, 2)

	first := store.created[0]
	assert.Equal(t, "3001", first.ExternalOrderID)
	assert.Equal(t, int32(3), first.ItemCount, "line quantities sum per order")
	assert.Equal(t, int64(3000), first.ProductValueCents, "2x$5 + 1x$20")

	second := store.created[1]
	assert.Equal(t, "3002", second.ExternalOrderID)
	assert.Equal(t, int32(1), second.ItemCount)
}

func TestImportOrdersRejectsUnknownAndTrackingFormats(t *testing.T) {
	store := newFakeStore()
	im := New(store)

	_, err := im.ImportOrders(context.Background(), models.SourceWhatnot, "ops", strings.NewReader("foo,bar\n1,2\n"), false)
	assert.ErrorIs(t, err, ErrUnknownFormat)

	trackingCSV := "Tracking Number,Carrier,Status,Signed By\n9400,usps,delivered,\n"
	_, err = im.ImportOrders(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(trackingCSV), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracking export")

	assert.Empty(t, store.batches, "no batch is opened for a rejected file")
}

func TestImportOrdersAllRowsBadFailsBatch(t *testing.T) {
	csv := `Order #,Buyer,Order Date,Street Address,Zip
,,2026-08-01,123 Main St,78701
`
	store := newFakeStore()
	im := New(store)

	sum, err := im.ImportOrders(context.Background(), models.SourceWhatnot, "ops", strings.NewReader(csv), false)
	require.NoError(t, err)

	assert.Equal(t, int32(0), sum.SuccessCount)
	require.Len(t, store.completions, 1)
	assert.True(t, store.completions[0].Failed)
}

func TestParseMoneyCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "$12.00", want: 1200},
		{in: "12.5", want: 1250},
		{in: "12", want: 1200},
		{in: "1,200.50", want: 120050},
		{in: "-3.25", want: -325},
		{in: "$0.99", want: 99},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseMoneyCents(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2026-08-01", "08/01/2026", "8/1/2026", "2026-08-01 14:22:01", "Aug 1, 2026"} {
		got, err := parseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseDate("not a date")
	assert.Error(t, err)
}
