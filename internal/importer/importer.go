package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
	"github.com/pkg/errors"
)

var (
	ErrUnknownFormat  = errors.New("unrecognized file format")
	ErrFormatMismatch = errors.New("file format does not match this endpoint")
	ErrEmptyFile      = errors.New("file has no rows")
)

type Store interface {
	OrderExists(ctx context.Context, source, externalOrderID string) (bool, error)
	CreateOrder(ctx context.Context, in models.CreateOrderInput) (*models.Order, error)
	CreateImportBatch(ctx context.Context, source, format, uploadedBy, checksum string) (*models.ImportBatch, error)
	CompleteImportBatch(ctx context.Context, c pgstore.BatchCompletion) error
}

type Importer struct {
	store Store
}

func New(store Store) *Importer {
	return &Importer{store: store}
}

// Summary is returned to the caller for both dry runs and real imports.
type Summary struct {
	BatchID      uint64            `json:"batchId,omitempty"`
	Format       string            `json:"format"`
	DryRun       bool              `json:"dryRun"`
	RowCount     int32             `json:"rowCount"`
	SuccessCount int32             `json:"successCount"`
	SkipCount    int32             `json:"skipCount"`
	ErrorCount   int32             `json:"errorCount"`
	Errors       []models.RowError `json:"errors,omitempty"`
}

// ImportOrders turns a classified marketplace export into order writes,
// idempotently: rows whose order already exists are skipped, malformed
// rows are collected per-row and never abort the rest of the batch.
func (im *Importer) ImportOrders(ctx context.Context, source, uploadedBy string, r io.Reader, dryRun bool) (*Summary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read upload")
	}

	headers, rows, err := readCSV(data)
	if err != nil {
		return nil, err
	}

	format := ClassifyHeaders(headers)
	switch format {
	case FormatWhatnotShippingExport, FormatWhatnotOrderList, FormatWhatnotPullSheet:
	case FormatUnknown:
		return nil, ErrUnknownFormat
	default:
		return nil, errors.Wrapf(ErrFormatMismatch, "%s is a tracking export, not an order export", format)
	}

	sum := &Summary{Format: format, DryRun: dryRun}

	var batch *models.ImportBatch
	if !dryRun {
		batch, err = im.store.CreateImportBatch(ctx, source, format, uploadedBy, checksum(data))
		if err != nil {
			return nil, err
		}
		sum.BatchID = batch.ID
	}

	idx := headerIndex(headers)
	inputs, rowErrs := parseOrderRows(format, source, idx, rows)
	sum.RowCount = int32(len(rows))
	sum.Errors = rowErrs

	for _, in := range inputs {
		exists, err := im.store.OrderExists(ctx, in.Source, in.ExternalOrderID)
		if err != nil {
			return nil, err
		}
		if exists {
			sum.SkipCount++
			continue
		}
		if dryRun {
			sum.SuccessCount++
			continue
		}
		if _, err := im.store.CreateOrder(ctx, in); err != nil {
			sum.Errors = append(sum.Errors, models.RowError{Row: -1, Reason: err.Error()})
			continue
		}
		sum.SuccessCount++
	}
	sum.ErrorCount = int32(len(sum.Errors))

	if !dryRun {
		if err := im.completeBatch(ctx, batch.ID, sum); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

func (im *Importer) completeBatch(ctx context.Context, batchID uint64, sum *Summary) error {
	var details *string
	if len(sum.Errors) > 0 {
		b, err := json.Marshal(sum.Errors)
		if err != nil {
			return errors.Wrap(err, "marshal error details")
		}
		s := string(b)
		details = &s
	}
	return im.store.CompleteImportBatch(ctx, pgstore.BatchCompletion{
		BatchID:          batchID,
		RowCount:         sum.RowCount,
		SuccessCount:     sum.SuccessCount,
		SkipCount:        sum.SkipCount,
		ErrorCount:       sum.ErrorCount,
		ErrorDetailsJSON: details,
		// A batch only fails wholesale when nothing succeeded.
		Failed: sum.SuccessCount == 0 && sum.SkipCount == 0 && sum.RowCount > 0,
	})
}

func readCSV(data []byte) (headers []string, rows [][]string, err error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse csv")
	}
	if len(all) == 0 {
		return nil, nil, ErrEmptyFile
	}
	return all[0], all[1:], nil
}

func checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// parseOrderRows converts raw rows to order inputs. Pull sheets are
// card-level line items, so they aggregate into one order per order id.
func parseOrderRows(format, source string, idx map[string]int, rows [][]string) ([]models.CreateOrderInput, []models.RowError) {
	var inputs []models.CreateOrderInput
	var rowErrs []models.RowError

	if format == FormatWhatnotPullSheet {
		return parsePullSheetRows(source, idx, rows)
	}

	for i, row := range rows {
		rowNum := i + 2 // 1-based, after the header row
		if isBlank(row) {
			continue
		}

		in := models.CreateOrderInput{Source: source}
		in.ExternalOrderID = cell(row, idx, "order #", "order number")
		if in.ExternalOrderID == "" {
			rowErrs = append(rowErrs, models.RowError{Row: rowNum, Reason: "missing order id"})
			continue
		}
		in.CustomerName = cell(row, idx, "buyer", "buyer name")
		if in.CustomerName == "" {
			rowErrs = append(rowErrs, models.RowError{Row: rowNum, Reason: "missing buyer name"})
			continue
		}

		date, err := parseDate(cell(row, idx, "order date", "placed at"))
		if err != nil {
			rowErrs = append(rowErrs, models.RowError{Row: rowNum, Reason: "bad order date: " + err.Error()})
			continue
		}
		in.OrderDate = date

		if v := cell(row, idx, "item count", "items", "quantity"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				rowErrs = append(rowErrs, models.RowError{Row: rowNum, Reason: "bad item count"})
				continue
			}
			in.ItemCount = int32(n)
		}
		if v := cell(row, idx, "product value", "order total", "total"); v != "" {
			cents, err := parseMoneyCents(v)
			if err != nil {
				rowErrs = append(rowErrs, models.RowError{Row: rowNum, Reason: "bad product value"})
				continue
			}
			in.ProductValueCents = cents
		}
		if v := cell(row, idx, "shipping fee", "shipping"); v != "" {
			// Best-effort; a bad shipping fee alone does not drop the row.
			if cents, err := parseMoneyCents(v); err == nil {
				in.ShippingFeeCents = cents
			}
		}

		if format == FormatWhatnotShippingExport {
			addr := models.Address{
				Name:    in.CustomerName,
				Street1: cell(row, idx, "street address", "address line 1"),
				Street2: cell(row, idx, "street address 2", "address line 2"),
				City:    cell(row, idx, "city"),
				State:   cell(row, idx, "state"),
				Zip:     cell(row, idx, "zip", "zip code", "postal code"),
				Country: cell(row, idx, "country"),
			}
			if addr.Street1 == "" || addr.Zip == "" {
				rowErrs = append(rowErrs, models.RowError{Row: rowNum, Reason: "incomplete address"})
				continue
			}
			in.Address = &addr
		}

		inputs = append(inputs, in)
	}
	return inputs, rowErrs
}

func parsePullSheetRows(source string, idx map[string]int, rows [][]string) ([]models.CreateOrderInput, []models.RowError) {
	type agg struct {
		in    models.CreateOrderInput
		order int
	}
	byOrder := map[string]*agg{}
	var keys []string
	var rowErrs []models.RowError

	for i, row := range rows {
		rowNum := i + 2
		if isBlank(row) {
			continue
		}
		orderID := cell(row, idx, "order #", "order number")
		if orderID == "" {
			rowErrs = append(rowErrs, models.RowError{Row: rowNum, Reason: "missing order id"})
			continue
		}
		qty, err := strconv.Atoi(cell(row, idx, "order quantity"))
		if err != nil || qty <= 0 {
			rowErrs = append(rowErrs, models.RowError{Row: rowNum, Reason: "bad order quantity"})
			continue
		}

		a, ok := byOrder[orderID]
		if !ok {
			date, err := parseDate(cell(row, idx, "order date", "placed at"))
			if err != nil {
				// Pull sheets may omit the date; fall back to today so the
				// order is still importable.
				date = time.Now().UTC().Truncate(24 * time.Hour)
			}
			a = &agg{in: models.CreateOrderInput{
				Source:          source,
				ExternalOrderID: orderID,
				CustomerName:    cell(row, idx, "buyer", "buyer name"),
				OrderDate:       date,
			}}
			byOrder[orderID] = a
			keys = append(keys, orderID)
		}
		a.in.ItemCount += int32(qty)
		if v := cell(row, idx, "price", "product value"); v != "" {
			if cents, err := parseMoneyCents(v); err == nil {
				a.in.ProductValueCents += cents * int64(qty)
			}
		}
	}

	inputs := make([]models.CreateOrderInput, 0, len(keys))
	for _, k := range keys {
		inputs = append(inputs, byOrder[k].in)
	}
	return inputs, rowErrs
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(24 * time.Hour), nil
		}
	}
	return time.Time{}, errors.Errorf("unparseable date %q", s)
}

// parseMoneyCents accepts "$12.00", "12.00", "12", "1,200.50".
func parseMoneyCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, errors.New("empty amount")
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errors.Errorf("bad amount %q", s)
	}
	cents := w * 100
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, errors.Errorf("bad amount %q", s)
		}
		cents += f
	}
	if neg {
		cents = -cents
	}
	return cents, nil
}
