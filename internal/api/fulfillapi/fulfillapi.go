package fulfillapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/FulfillBox/internal/cache"
	"github.com/BearBump/FulfillBox/internal/importer"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/autofulfill"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
)

type Store interface {
	Ping(ctx context.Context) error
	GetOrder(ctx context.Context, id uint64) (*models.Order, error)
	ListOrderShipments(ctx context.Context, orderID uint64) ([]*models.Shipment, error)
	AddShipment(ctx context.Context, orderID uint64, itemCount *int32) (*models.Shipment, error)
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	GetImportBatch(ctx context.Context, id uint64) (*models.ImportBatch, error)
	ListUnmatchedTracking(ctx context.Context, resolutionStatus string, limit int) ([]*models.UnmatchedTracking, error)
	ResolveUnmatched(ctx context.Context, id uint64, resolution, resolvedBy string, shipmentID *uint64) error
	ListQueuedPrintJobs(ctx context.Context, limit int) ([]*pgstore.PrintJob, error)
	MarkPrintJobPrinted(ctx context.Context, id uint64) error
}

type ImportService interface {
	ImportOrders(ctx context.Context, source, uploadedBy string, r io.Reader, dryRun bool) (*importer.Summary, error)
	ImportTracking(ctx context.Context, source, uploadedBy string, r io.Reader, resolver importer.Resolver, dryRun bool) (*importer.TrackingSummary, error)
}

type LabelPurchaser interface {
	PurchaseLabel(ctx context.Context, shipmentID uint64) (*models.Shipment, error)
}

// API is the operator-facing HTTP surface. Handlers are thin: decode,
// call, encode; all invariants live below.
type API struct {
	store     Store
	imports   ImportService
	purchaser LabelPurchaser
	resolver  importer.Resolver

	cache    cache.BytesCache
	cacheTTL time.Duration
}

func New(store Store, imports ImportService, purchaser LabelPurchaser, resolver importer.Resolver) *API {
	return &API{store: store, imports: imports, purchaser: purchaser, resolver: resolver}
}

// WithCache enables the best-effort order view cache.
func (a *API) WithCache(c cache.BytesCache, ttl time.Duration) *API {
	a.cache = c
	a.cacheTTL = ttl
	return a
}

func (a *API) Routes(r chi.Router) {
	r.Post("/v1/imports/orders", a.handleImportOrders)
	r.Post("/v1/imports/tracking", a.handleImportTracking)
	r.Get("/v1/batches/{id}", a.handleGetBatch)

	r.Get("/v1/orders/{id}", a.handleGetOrder)
	r.Get("/v1/orders/{id}/shipments", a.handleListShipments)
	r.Post("/v1/orders/{id}/shipments", a.handleSplitShipment)

	r.Get("/v1/shipments/{id}", a.handleGetShipment)
	r.Post("/v1/shipments/{id}/purchase", a.handlePurchase)

	r.Get("/v1/unmatched", a.handleListUnmatched)
	r.Post("/v1/unmatched/{id}/resolve", a.handleResolveUnmatched)

	r.Get("/v1/print-queue", a.handleListPrintQueue)
	r.Post("/v1/print-queue/{id}/printed", a.handleMarkPrinted)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
}

func (a *API) handleImportOrders(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = models.SourceWhatnot
	}
	sum, err := a.imports.ImportOrders(r.Context(), source, r.URL.Query().Get("uploaded_by"), r.Body, boolParam(r, "dry_run"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleImportTracking(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = models.SourceWhatnot
	}
	sum, err := a.imports.ImportTracking(r.Context(), source, r.URL.Query().Get("uploaded_by"), r.Body, a.resolver, boolParam(r, "dry_run"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	b, err := a.store.GetImportBatch(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchView(b))
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("order:%d:view", id)
	if a.cache != nil && a.cacheTTL > 0 {
		if b, ok, err := a.cache.Get(r.Context(), cacheKey); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b)
			return
		}
	}

	o, err := a.store.GetOrder(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	shipments, err := a.store.ListOrderShipments(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	view := toOrderView(o)
	view.Shipments = toShipmentViews(shipments)

	if a.cache != nil && a.cacheTTL > 0 {
		if b, err := json.Marshal(view); err == nil {
			_ = a.cache.Set(r.Context(), cacheKey, b, a.cacheTTL)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleListShipments(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if _, err := a.store.GetOrder(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	shipments, err := a.store.ListOrderShipments(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentViews(shipments))
}

func (a *API) handleSplitShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		ItemCount *int32 `json:"itemCount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	if _, err := a.store.GetOrder(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	sh, err := a.store.AddShipment(r.Context(), id, req.ItemCount)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShipmentView(sh))
}

func (a *API) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	sh, err := a.store.GetShipment(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentView(sh))
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	sh, err := a.purchaser.PurchaseLabel(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentView(sh))
}

func (a *API) handleListUnmatched(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.ResolutionPending
	}
	if status == "all" {
		status = ""
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := a.store.ListUnmatchedTracking(r.Context(), status, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]unmatchedView, 0, len(items))
	for _, u := range items {
		views = append(views, toUnmatchedView(u))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleResolveUnmatched(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Resolution string  `json:"resolution"`
		ResolvedBy string  `json:"resolvedBy"`
		ShipmentID *uint64 `json:"shipmentId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	if req.Resolution == "" {
		writeJSON(w, http.StatusBadRequest, errBody("resolution is required"))
		return
	}
	if err := a.store.ResolveUnmatched(r.Context(), id, req.Resolution, req.ResolvedBy, req.ShipmentID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (a *API) handleListPrintQueue(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := a.store.ListQueuedPrintJobs(r.Context(), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]printJobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toPrintJobView(j))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleMarkPrinted(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := a.store.MarkPrintJobPrinted(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "printed"})
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeError maps domain errors onto HTTP statuses; anything unknown is
// a 500 with the detail kept in the log, not the response.
func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pgstore.ErrOrderNotFound),
		errors.Is(err, pgstore.ErrShipmentNotFound),
		errors.Is(err, pgstore.ErrBatchNotFound),
		errors.Is(err, pgstore.ErrUnmatchedNotFound):
		writeJSON(w, http.StatusNotFound, errBody(err.Error()))
	case errors.Is(err, pgstore.ErrDuplicateBatch),
		errors.Is(err, pgstore.ErrAlreadyResolved),
		errors.Is(err, pgstore.ErrBadTransition),
		errors.Is(err, autofulfill.ErrAlreadyPurchased),
		errors.Is(err, autofulfill.ErrPurchaseInProgress),
		errors.Is(err, autofulfill.ErrNotPurchasable):
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
	case errors.Is(err, importer.ErrUnknownFormat),
		errors.Is(err, importer.ErrFormatMismatch),
		errors.Is(err, importer.ErrEmptyFile),
		errors.Is(err, pgstore.ErrNoStoredAddress):
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
	default:
		slog.Error("api internal error", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errBody("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func boolParam(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func idParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errBody("bad id"))
		return 0, false
	}
	return id, true
}
