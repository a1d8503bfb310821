package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var ErrOrderNotFound = errors.New("order not found")

var displayPrefixes = map[string]string{
	models.SourceWhatnot: "WN",
}

func displayPrefix(source string) string {
	if p, ok := displayPrefixes[source]; ok {
		return p
	}
	p := strings.ToUpper(source)
	if len(p) > 3 {
		p = p[:3]
	}
	return p
}

const orderColumns = `
  id, source, external_order_id, display_order_number,
  customer_name, customer_name_normalized, order_date,
  item_count, product_value_cents, shipping_fee_cents,
  status, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(
		&o.ID, &o.Source, &o.ExternalOrderID, &o.DisplayOrderNumber,
		&o.CustomerName, &o.CustomerNameNormalized, &o.OrderDate,
		&o.ItemCount, &o.ProductValueCents, &o.ShippingFeeCents,
		&o.Status, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*models.Order, error) {
	defer rows.Close()
	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CreateOrder writes the order plus its first shipment in one
// transaction; an order can never exist without a shipment. The display
// number sequence is scoped to source+day: max existing suffix + 1.
func (s *Storage) CreateOrder(ctx context.Context, in models.CreateOrderInput) (*models.Order, error) {
	if in.Source == "" || in.ExternalOrderID == "" {
		return nil, errors.New("source and external order id are required")
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	day := in.OrderDate.UTC().Format("20060102")
	numberPrefix := fmt.Sprintf("%s-%s-", displayPrefix(in.Source), day)

	var maxSeq int
	err = tx.QueryRow(ctx, `
SELECT COALESCE(MAX(NULLIF(split_part(display_order_number, '-', 3), '')::int), 0)
FROM marketplace_orders
WHERE source = $1 AND display_order_number LIKE $2
`, in.Source, numberPrefix+"%").Scan(&maxSeq)
	if err != nil {
		return nil, errors.Wrap(err, "select max display sequence")
	}
	displayNumber := fmt.Sprintf("%s%d", numberPrefix, maxSeq+1)

	itemCount := in.ItemCount
	if itemCount <= 0 {
		itemCount = 1
	}

	var orderID uint64
	err = tx.QueryRow(ctx, `
INSERT INTO marketplace_orders (
  source, external_order_id, display_order_number,
  customer_name, customer_name_normalized, order_date,
  item_count, product_value_cents, shipping_fee_cents,
  status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
RETURNING id
`, in.Source, in.ExternalOrderID, displayNumber,
		in.CustomerName, models.NormalizeCustomerName(in.CustomerName), in.OrderDate.UTC(),
		itemCount, in.ProductValueCents, in.ShippingFeeCents,
		models.OrderStatusPending, now).Scan(&orderID)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	var addressCiphertext []byte
	addressZip := ""
	if in.Address != nil && !in.Address.IsZero() {
		plain, err := json.Marshal(in.Address)
		if err != nil {
			return nil, errors.Wrap(err, "marshal address")
		}
		addressCiphertext, err = s.cipher.Encrypt(plain)
		if err != nil {
			return nil, errors.Wrap(err, "encrypt address")
		}
		addressZip = models.NormalizeZip(in.Address.Zip)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO marketplace_shipments (
  marketplace_order_id, shipment_sequence, status,
  address_ciphertext, address_zip, created_at, updated_at
)
VALUES ($1, 1, $2, $3, $4, $5, $5)
`, orderID, models.ShipmentStatusPending, addressCiphertext, addressZip, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetOrder(ctx, orderID)
}

// OrderExists is the importer's idempotency check; callers skip rather
// than overwrite.
func (s *Storage) OrderExists(ctx context.Context, source, externalOrderID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM marketplace_orders WHERE source = $1 AND external_order_id = $2)
`, source, externalOrderID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "select order exists")
	}
	return exists, nil
}

// AddShipment creates a split shipment with the next sequence number.
func (s *Storage) AddShipment(ctx context.Context, orderID uint64, itemCount *int32) (*models.Shipment, error) {
	now := time.Now().UTC()
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO marketplace_shipments (
  marketplace_order_id, shipment_sequence, status, item_count,
  address_ciphertext, address_zip, created_at, updated_at
)
SELECT $1,
       COALESCE(MAX(shipment_sequence), 0) + 1,
       $2, $3,
       (SELECT address_ciphertext FROM marketplace_shipments WHERE marketplace_order_id = $1 AND shipment_sequence = 1),
       COALESCE((SELECT address_zip FROM marketplace_shipments WHERE marketplace_order_id = $1 AND shipment_sequence = 1), ''),
       $4, $4
FROM marketplace_shipments WHERE marketplace_order_id = $1
RETURNING id
`, orderID, models.ShipmentStatusPending, itemCount, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert split shipment")
	}
	return s.GetShipment(ctx, id)
}

func (s *Storage) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM marketplace_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

// FindOrdersByExternalRef matches the explicit order reference from a
// tracking record. More than one row means sources share the reference;
// the caller treats that as ambiguous.
func (s *Storage) FindOrdersByExternalRef(ctx context.Context, ref string) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+orderColumns+`
FROM marketplace_orders
WHERE external_order_id = $1 OR display_order_number = $1
ORDER BY id
`, ref)
	if err != nil {
		return nil, errors.Wrap(err, "select orders by ref")
	}
	return scanOrders(rows)
}

func (s *Storage) FindOrdersByNameAndDate(ctx context.Context, nameNormalized string, date time.Time) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+orderColumns+`
FROM marketplace_orders
WHERE customer_name_normalized = $1 AND order_date = $2
ORDER BY id
`, nameNormalized, date.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, errors.Wrap(err, "select orders by name+date")
	}
	return scanOrders(rows)
}

func (s *Storage) FindOrdersByNameAndZip(ctx context.Context, nameNormalized, zip string) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT ON (o.id)
  o.id, o.source, o.external_order_id, o.display_order_number,
  o.customer_name, o.customer_name_normalized, o.order_date,
  o.item_count, o.product_value_cents, o.shipping_fee_cents,
  o.status, o.created_at, o.updated_at
FROM marketplace_orders o
JOIN marketplace_shipments sh ON sh.marketplace_order_id = o.id
WHERE o.customer_name_normalized = $1 AND sh.address_zip = $2
ORDER BY o.id
`, nameNormalized, models.NormalizeZip(zip))
	if err != nil {
		return nil, errors.Wrap(err, "select orders by name+zip")
	}
	return scanOrders(rows)
}

func (s *Storage) FindOrdersByName(ctx context.Context, nameNormalized string) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+orderColumns+`
FROM marketplace_orders
WHERE customer_name_normalized = $1
ORDER BY id
`, nameNormalized)
	if err != nil {
		return nil, errors.Wrap(err, "select orders by name")
	}
	return scanOrders(rows)
}

// recomputeOrderStatus mirrors the shipments' aggregate state onto the
// order, forward-only: the order never moves backwards even if a late
// shipment lags behind.
func recomputeOrderStatus(ctx context.Context, tx pgx.Tx, orderID uint64) error {
	rows, err := tx.Query(ctx, `SELECT status FROM marketplace_shipments WHERE marketplace_order_id = $1`, orderID)
	if err != nil {
		return errors.Wrap(err, "select shipment statuses")
	}
	statuses := []string{}
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan shipment status")
		}
		statuses = append(statuses, st)
	}
	rows.Close()
	if rows.Err() != nil {
		return errors.Wrap(rows.Err(), "rows")
	}

	next := aggregateOrderStatus(statuses)
	if next == "" {
		return nil
	}

	_, err = tx.Exec(ctx, `
UPDATE marketplace_orders
SET status = $2, updated_at = now()
WHERE id = $1
  AND status NOT IN ($3, $4)
`, orderID, next, models.OrderStatusDelivered, models.OrderStatusCancelled)
	return errors.Wrap(err, "update order status")
}

func aggregateOrderStatus(shipmentStatuses []string) string {
	if len(shipmentStatuses) == 0 {
		return ""
	}
	anyException := false
	allDelivered := true
	allShippedOrBeyond := true
	anyMoving := false
	for _, st := range shipmentStatuses {
		switch st {
		case models.ShipmentStatusException:
			anyException = true
			allDelivered = false
			allShippedOrBeyond = false
		case models.ShipmentStatusDelivered:
			anyMoving = true
		case models.ShipmentStatusShipped, models.ShipmentStatusInTransit:
			allDelivered = false
			anyMoving = true
		case models.ShipmentStatusLabelPurchased:
			allDelivered = false
			allShippedOrBeyond = false
			anyMoving = true
		default:
			allDelivered = false
			allShippedOrBeyond = false
		}
	}
	switch {
	case anyException:
		return models.OrderStatusException
	case allDelivered:
		return models.OrderStatusDelivered
	case allShippedOrBeyond:
		return models.OrderStatusShipped
	case anyMoving:
		return models.OrderStatusProcessing
	}
	return models.OrderStatusPending
}
