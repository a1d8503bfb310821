package importer

import (
	"context"
	"io"
	"strings"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/reconcile"
	"github.com/pkg/errors"
)

// Resolver is satisfied by the reconcile engine.
type Resolver interface {
	Resolve(ctx context.Context, rec models.TrackingRecord) (*reconcile.MatchResult, error)
}

// TrackingSummary extends the import summary with the per-outcome split
// of the match engine.
type TrackingSummary struct {
	Summary
	AutoCount      int32 `json:"autoCount"`
	ReviewCount    int32 `json:"reviewCount"`
	UnmatchedCount int32 `json:"unmatchedCount"`
}

// ImportTracking feeds an EasyPost export through the match engine. A
// dry run parses and classifies but resolves nothing. Replaying the same
// file is safe: already-tracked shipments are untouched and the review
// queue dedupes on tracker id.
func (im *Importer) ImportTracking(ctx context.Context, source, uploadedBy string, r io.Reader, resolver Resolver, dryRun bool) (*TrackingSummary, error) {
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
	case FormatEasypostEvents, FormatEasypostShipments:
	case FormatUnknown:
		return nil, ErrUnknownFormat
	default:
		return nil, errors.Wrapf(ErrFormatMismatch, "%s is an order export, not a tracking export", format)
	}

	sum := &TrackingSummary{Summary: Summary{Format: format, DryRun: dryRun}}

	var batchID uint64
	if !dryRun {
		batch, err := im.store.CreateImportBatch(ctx, source, format, uploadedBy, checksum(data))
		if err != nil {
			return nil, err
		}
		batchID = batch.ID
		sum.BatchID = batchID
	}

	idx := headerIndex(headers)
	records, rowErrs := parseTrackingRows(format, idx, rows)
	sum.RowCount = int32(len(rows))
	sum.Errors = rowErrs

	for _, rec := range records {
		if dryRun {
			sum.SuccessCount++
			continue
		}
		res, err := resolver.Resolve(ctx, rec)
		if err != nil {
			sum.Errors = append(sum.Errors, models.RowError{Row: -1, Reason: err.Error()})
			continue
		}
		switch res.Outcome {
		case reconcile.OutcomeAuto:
			sum.AutoCount++
			sum.SuccessCount++
		case reconcile.OutcomeReview:
			sum.ReviewCount++
			sum.SkipCount++
		default:
			sum.UnmatchedCount++
			sum.SkipCount++
		}
	}
	sum.ErrorCount = int32(len(sum.Errors))

	if !dryRun {
		if err := im.completeBatch(ctx, batchID, &sum.Summary); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

// parseTrackingRows handles both EasyPost export shapes. The events
// export is event-level: the recipient name arrives in "signed by" on
// delivery scans, with "to name" as the fallback. The shipments export
// is one row per shipment and carries the full destination address.
func parseTrackingRows(format string, idx map[string]int, rows [][]string) ([]models.TrackingRecord, []models.RowError) {
	var records []models.TrackingRecord
	var rowErrs []models.RowError

	for i, row := range rows {
		rowNum := i + 2
		if isBlank(row) {
			continue
		}

		rec := models.TrackingRecord{
			TrackerID:      cell(row, idx, "tracker id", "tracker_id", "id"),
			TrackingNumber: cell(row, idx, "tracking number", "tracking #", "tracking code"),
			TrackingURL:    cell(row, idx, "tracking url", "tracker url", "public url"),
			Carrier:        cell(row, idx, "carrier"),
			Status:         normalizeProviderStatus(cell(row, idx, "status", "tracking status")),
		}
		if rec.TrackingNumber == "" {
			rowErrs = append(rowErrs, models.RowError{Row: rowNum, Reason: "missing tracking number"})
			continue
		}

		if v := cell(row, idx, "datetime", "event time", "last event at", "updated at"); v != "" {
			if t, err := parseDate(v); err == nil {
				rec.EventTime = &t
			}
		}

		switch format {
		case FormatEasypostEvents:
			rec.CustomerName = cell(row, idx, "signed by", "signed_by", "to name", "to_name")
			rec.OrderReference = cell(row, idx, "reference", "order #", "order number")
		case FormatEasypostShipments:
			rec.CustomerName = cell(row, idx, "to name", "to_name")
			rec.DestinationZip = cell(row, idx, "to zip", "to_zip", "postal code")
			rec.OrderReference = cell(row, idx, "reference", "order #", "order number")
			if street := cell(row, idx, "to street1", "to_street1"); street != "" {
				rec.Address = &models.Address{
					Name:    rec.CustomerName,
					Street1: street,
					Street2: cell(row, idx, "to street2", "to_street2"),
					City:    cell(row, idx, "to city", "to_city"),
					State:   cell(row, idx, "to state", "to_state"),
					Zip:     rec.DestinationZip,
					Country: cell(row, idx, "to country", "to_country"),
				}
			}
		}

		records = append(records, rec)
	}
	return records, rowErrs
}

// normalizeProviderStatus folds "In Transit" and "in_transit" together.
func normalizeProviderStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}
