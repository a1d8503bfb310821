package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{
			name:    "shipping export",
			headers: []string{"Order #", "Buyer", "Street Address", "City", "State", "Zip"},
			want:    FormatWhatnotShippingExport,
		},
		{
			name:    "shipping export alternate",
			headers: []string{"order number", "buyer name", "address line 1", "zip code"},
			want:    FormatWhatnotShippingExport,
		},
		{
			name:    "pull sheet",
			headers: []string{"Order #", "Buyer", "Card Name", "Order Quantity"},
			want:    FormatWhatnotPullSheet,
		},
		{
			name:    "order list",
			headers: []string{"Order #", "Buyer", "Order Date", "Order Total"},
			want:    FormatWhatnotOrderList,
		},
		{
			name:    "easypost events",
			headers: []string{"Tracking Number", "Carrier", "Status", "Signed By", "Datetime"},
			want:    FormatEasypostEvents,
		},
		{
			name:    "easypost shipments",
			headers: []string{"to_name", "to_zip", "carrier", "tracking number", "reference"},
			want:    FormatEasypostShipments,
		},
		{
			name:    "bom and casing do not matter",
			headers: []string{"\ufeffORDER #", " Buyer ", "Street Address"},
			want:    FormatWhatnotShippingExport,
		},
		{
			name:    "unknown",
			headers: []string{"foo", "bar"},
			want:    FormatUnknown,
		},
		{
			name:    "empty",
			headers: nil,
			want:    FormatUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHeaders(tt.headers))
		})
	}
}

func TestClassifyHeadersShippingBeatsPullSheet(t *testing.T) {
	// A file carrying both an address and a quantity column is a shipping
	// export; the address columns are the stronger signal.
	headers := []string{"Order #", "Buyer", "Street Address", "Order Quantity"}
	assert.Equal(t, FormatWhatnotShippingExport, ClassifyHeaders(headers))
}

func TestClassifyHeadersDeterministic(t *testing.T) {
	headers := []string{"Order #", "Buyer", "Order Date"}
	first := ClassifyHeaders(headers)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, ClassifyHeaders(headers))
	}
}
