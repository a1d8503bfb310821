package importer

import "strings"

// Known export formats. An uploaded file is classified purely from its
// header row.
const (
	FormatWhatnotShippingExport = "whatnot_shipping_export"
	FormatWhatnotPullSheet      = "whatnot_pull_sheet"
	FormatWhatnotOrderList      = "whatnot_order_list"
	FormatEasypostEvents        = "easypost_events"
	FormatEasypostShipments     = "easypost_shipments"
	FormatUnknown               = "unknown"
)

// A signature is a set of normalized headers that must all be present.
// Formats are tried in listed order and signatures within a format in
// listed order; the order is an explicit slice so classification is
// deterministic regardless of header order in the file.
type formatSignatures struct {
	format     string
	signatures [][]string
}

var knownFormats = []formatSignatures{
	{
		format: FormatWhatnotShippingExport,
		signatures: [][]string{
			{"order #", "buyer", "street address"},
			{"order number", "buyer name", "address line 1"},
		},
	},
	{
		// The "order quantity" column distinguishes a pull sheet from the
		// other order-level exports.
		format: FormatWhatnotPullSheet,
		signatures: [][]string{
			{"order #", "order quantity"},
			{"order number", "order quantity"},
		},
	},
	{
		format: FormatWhatnotOrderList,
		signatures: [][]string{
			{"order #", "buyer", "order date"},
			{"order number", "buyer name", "placed at"},
		},
	},
	{
		format: FormatEasypostEvents,
		signatures: [][]string{
			{"tracking number", "signed by"},
			{"tracking #", "signed_by"},
		},
	},
	{
		format: FormatEasypostShipments,
		signatures: [][]string{
			{"to_name", "carrier", "tracking number"},
			{"to name", "carrier", "tracking code"},
		},
	},
}

// NormalizeHeader strips the UTF-8 byte-order mark, trims, and lowers a
// header cell.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.TrimSpace(h))
}

// ClassifyHeaders names the schema of an uploaded file from its header
// row. Pure and deterministic: the same header set always yields the
// same format.
func ClassifyHeaders(headers []string) string {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[NormalizeHeader(h)] = struct{}{}
	}

	for _, f := range knownFormats {
		for _, sig := range f.signatures {
			if satisfied(present, sig) {
				return f.format
			}
		}
	}
	return FormatUnknown
}

func satisfied(present map[string]struct{}, required []string) bool {
	for _, h := range required {
		if _, ok := present[h]; !ok {
			return false
		}
	}
	return true
}

// headerIndex maps normalized header -> column position, first
// occurrence wins.
func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		n := NormalizeHeader(h)
		if _, ok := idx[n]; !ok {
			idx[n] = i
		}
	}
	return idx
}

// cell returns the trimmed value for any of the given aliases, or "".
func cell(row []string, idx map[string]int, aliases ...string) string {
	for _, a := range aliases {
		if i, ok := idx[a]; ok && i < len(row) {
			if v := strings.TrimSpace(row[i]); v != "" {
				return v
			}
		}
	}
	return ""
}
