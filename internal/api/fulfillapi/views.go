package fulfillapi

import (
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
)

// Wire views. Encrypted address material never appears here; only the
// zip survives for display.
type orderView struct {
	ID                 uint64    `json:"id"`
	Source             string    `json:"source"`
	ExternalOrderID    string    `json:"externalOrderId"`
	DisplayOrderNumber string    `json:"displayOrderNumber"`
	CustomerName       string    `json:"customerName"`
	OrderDate          time.Time `json:"orderDate"`
	ItemCount          int32     `json:"itemCount"`
	ProductValueCents  int64     `json:"productValueCents"`
	ShippingFeeCents   int64     `json:"shippingFeeCents"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`

	Shipments []shipmentView `json:"shipments,omitempty"`
}

type shipmentView struct {
	ID               uint64     `json:"id"`
	OrderID          uint64     `json:"orderId"`
	Sequence         int32      `json:"sequence"`
	Status           string     `json:"status"`
	AddressZip       string     `json:"addressZip,omitempty"`
	HasStoredAddress bool       `json:"hasStoredAddress"`
	AddressExpiresAt *time.Time `json:"addressExpiresAt,omitempty"`
	ItemCount        *int32     `json:"itemCount,omitempty"`
	ParcelPreset     *string    `json:"parcelPreset,omitempty"`
	Carrier          *string    `json:"carrier,omitempty"`
	Service          *string    `json:"service,omitempty"`
	TrackingNumber   *string    `json:"trackingNumber,omitempty"`
	TrackingURL      *string    `json:"trackingUrl,omitempty"`
	LabelURL         *string    `json:"labelUrl,omitempty"`
	LabelCostCents   *int64     `json:"labelCostCents,omitempty"`
	MatchConfidence  *string    `json:"matchConfidence,omitempty"`
	ExceptionNote    *string    `json:"exceptionNote,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type batchView struct {
	ID           uint64     `json:"id"`
	Source       string     `json:"source"`
	Format       string     `json:"format"`
	UploadedBy   string     `json:"uploadedBy,omitempty"`
	FileChecksum string     `json:"fileChecksum"`
	Status       string     `json:"status"`
	RowCount     int32      `json:"rowCount"`
	SuccessCount int32      `json:"successCount"`
	SkipCount    int32      `json:"skipCount"`
	ErrorCount   int32      `json:"errorCount"`
	ErrorDetails *string    `json:"errorDetails,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

type unmatchedView struct {
	ID               uint64     `json:"id"`
	TrackerID        string     `json:"trackerId"`
	Carrier          string     `json:"carrier,omitempty"`
	TrackingNumber   string     `json:"trackingNumber"`
	CustomerName     string     `json:"customerName,omitempty"`
	DestinationZip   string     `json:"destinationZip,omitempty"`
	ProviderStatus   string     `json:"providerStatus,omitempty"`
	MatchReason      string     `json:"matchReason"`
	ResolutionStatus string     `json:"resolutionStatus"`
	ResolvedBy       *string    `json:"resolvedBy,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type printJobView struct {
	ID         uint64     `json:"id"`
	ShipmentID uint64     `json:"shipmentId"`
	LabelURL   string     `json:"labelUrl"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	PrintedAt  *time.Time `json:"printedAt,omitempty"`
}

func toOrderView(o *models.Order) orderView {
	return orderView{
		ID:                 o.ID,
		Source:             o.Source,
		ExternalOrderID:    o.ExternalOrderID,
		DisplayOrderNumber: o.DisplayOrderNumber,
		CustomerName:       o.CustomerName,
		OrderDate:          o.OrderDate,
		ItemCount:          o.ItemCount,
		ProductValueCents:  o.ProductValueCents,
		ShippingFeeCents:   o.ShippingFeeCents,
		Status:             o.Status,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func toShipmentView(s *models.Shipment) shipmentView {
	return shipmentView{
		ID:               s.ID,
		OrderID:          s.MarketplaceOrderID,
		Sequence:         s.ShipmentSequence,
		Status:           s.Status,
		AddressZip:       s.AddressZip,
		HasStoredAddress: len(s.AddressCiphertext) > 0,
		AddressExpiresAt: s.AddressExpiresAt,
		ItemCount:        s.ItemCount,
		ParcelPreset:     s.ParcelPreset,
		Carrier:          s.Carrier,
		Service:          s.Service,
		TrackingNumber:   s.TrackingNumber,
		TrackingURL:      s.TrackingURL,
		LabelURL:         s.LabelURL,
		LabelCostCents:   s.LabelCostCents,
		MatchConfidence:  s.MatchConfidence,
		ExceptionNote:    s.ExceptionNote,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func toShipmentViews(ss []*models.Shipment) []shipmentView {
	out := make([]shipmentView, 0, len(ss))
	for _, s := range ss {
		out = append(out, toShipmentView(s))
	}
	return out
}

func toBatchView(b *models.ImportBatch) batchView {
	return batchView{
		ID:           b.ID,
		Source:       b.Source,
		Format:       b.Format,
		UploadedBy:   b.UploadedBy,
		FileChecksum: b.FileChecksum,
		Status:       b.Status,
		RowCount:     b.RowCount,
		SuccessCount: b.SuccessCount,
		SkipCount:    b.SkipCount,
		ErrorCount:   b.ErrorCount,
		ErrorDetails: b.ErrorDetails,
		CreatedAt:    b.CreatedAt,
		CompletedAt:  b.CompletedAt,
	}
}

func toUnmatchedView(u *models.UnmatchedTracking) unmatchedView {
	return unmatchedView{
		ID:               u.ID,
		TrackerID:        u.EasypostTrackerID,
		Carrier:          u.Carrier,
		TrackingNumber:   u.TrackingNumber,
		CustomerName:     u.CustomerName,
		DestinationZip:   u.DestinationZip,
		ProviderStatus:   u.ProviderStatus,
		MatchReason:      u.MatchReason,
		ResolutionStatus: u.ResolutionStatus,
		ResolvedBy:       u.ResolvedBy,
		ResolvedAt:       u.ResolvedAt,
		CreatedAt:        u.CreatedAt,
	}
}

func toPrintJobView(j *pgstore.PrintJob) printJobView {
	return printJobView{
		ID:         j.ID,
		ShipmentID: j.ShipmentID,
		LabelURL:   j.LabelURL,
		Status:     j.Status,
		CreatedAt:  j.CreatedAt,
		PrintedAt:  j.PrintedAt,
	}
}
