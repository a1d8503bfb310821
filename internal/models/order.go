package models

import "time"

// Order statuses mirror the aggregate state of the order's shipments.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusException  = "exception"
	OrderStatusCancelled  = "cancelled"
)

// Sales channels we import from.
const (
	SourceWhatnot = "whatnot"
)

type Order struct {
	ID                     uint64
	Source                 string
	ExternalOrderID        string
	DisplayOrderNumber     string
	CustomerName           string
	CustomerNameNormalized string
	OrderDate              time.Time
	ItemCount              int32
	ProductValueCents      int64
	ShippingFeeCents       int64
	Status                 string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type Address struct {
	Name    string `json:"name"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country,omitempty"`
}

func (a Address) IsZero() bool {
	return a.Street1 == "" && a.City == "" && a.Zip == ""
}

type CreateOrderInput struct {
	Source            string
	ExternalOrderID   string
	CustomerName      string
	OrderDate         time.Time
	ItemCount         int32
	ProductValueCents int64
	ShippingFeeCents  int64
	Address           *Address
}
