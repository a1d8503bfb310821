package easypostv1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/FulfillBox/internal/integrations/shipping"
	"github.com/BearBump/FulfillBox/internal/models"
)

// Client talks to the EasyPost v1 REST API. Only the two calls the
// purchase flow needs are implemented.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client

	// FromAddress is the seller's return address, stamped on every
	// shipment.
	FromAddress models.Address
}

func New(baseURL, apiKey string, from models.Address) *Client {
	if baseURL == "" {
		baseURL = "https://api.easypost.com/v1"
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		FromAddress: from,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type epAddress struct {
	Name    string `json:"name,omitempty"`
	Street1 string `json:"street1,omitempty"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

type epParcel struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

type epRate struct {
	ID      string `json:"id"`
	Carrier string `json:"carrier"`
	Service string `json:"service"`
	Rate    string `json:"rate"`
}

type epShipment struct {
	ID           string   `json:"id"`
	Rates        []epRate `json:"rates"`
	SelectedRate *epRate  `json:"selected_rate"`
	TrackingCode string   `json:"tracking_code"`
	Tracker      *struct {
		PublicURL string `json:"public_url"`
	} `json:"tracker"`
	PostageLabel *struct {
		LabelURL string `json:"label_url"`
	} `json:"postage_label"`
}

type epError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateShipment(ctx context.Context, to models.Address, parcel shipping.Parcel) (shipping.Shipment, error) {
	body := map[string]any{
		"shipment": map[string]any{
			"to_address":   toEPAddress(to),
			"from_address": toEPAddress(c.FromAddress),
			"parcel": epParcel{
				Length: parcel.LengthIn,
				Width:  parcel.WidthIn,
				Height: parcel.HeightIn,
				Weight: parcel.WeightOz,
			},
		},
	}

	var out epShipment
	if err := c.post(ctx, "/shipments", "", body, &out); err != nil {
		return shipping.Shipment{}, err
	}

	sh := shipping.Shipment{ID: out.ID}
	for _, r := range out.Rates {
		cents, err := dollarsToCents(r.Rate)
		if err != nil {
			continue // skip unpriceable rates
		}
		sh.Rates = append(sh.Rates, shipping.Rate{
			ID:        r.ID,
			Carrier:   r.Carrier,
			Service:   r.Service,
			CostCents: cents,
		})
	}
	return sh, nil
}

func (c *Client) BuyLabel(ctx context.Context, shipmentID, rateID, idempotencyKey string) (shipping.Label, error) {
	body := map[string]any{
		"rate": map[string]string{"id": rateID},
	}

	var out epShipment
	if err := c.post(ctx, "/shipments/"+shipmentID+"/buy", idempotencyKey, body, &out); err != nil {
		return shipping.Label{}, err
	}

	l := shipping.Label{
		ShipmentID:     out.ID,
		RateID:         rateID,
		TrackingNumber: out.TrackingCode,
	}
	if out.SelectedRate != nil {
		l.Carrier = out.SelectedRate.Carrier
		l.Service = out.SelectedRate.Service
		if cents, err := dollarsToCents(out.SelectedRate.Rate); err == nil {
			l.CostCents = cents
		}
	}
	if out.Tracker != nil {
		l.TrackingURL = out.Tracker.PublicURL
	}
	if out.PostageLabel != nil {
		l.LabelURL = out.PostageLabel.LabelURL
	}
	if l.TrackingNumber == "" {
		return shipping.Label{}, errors.New("easypost buy returned no tracking code")
	}
	return l, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.apiKey, "")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var ee epError
		if json.NewDecoder(resp.Body).Decode(&ee) == nil && ee.Error.Message != "" {
			return fmt.Errorf("easypost http %d: %s (%s)", resp.StatusCode, ee.Error.Message, ee.Error.Code)
		}
		return fmt.Errorf("easypost http %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func toEPAddress(a models.Address) epAddress {
	return epAddress{
		Name:    a.Name,
		Street1: a.Street1,
		Street2: a.Street2,
		City:    a.City,
		State:   a.State,
		Zip:     a.Zip,
		Country: a.Country,
	}
}

// dollarsToCents parses the provider's decimal-string rate without
// floating point.
func dollarsToCents(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty rate")
	}
	whole, frac, _ := strings.Cut(s, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad rate %q", s)
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
			return 0, errors.Wrapf(err, "bad rate %q", s)
		}
		cents += f
	}
	return cents, nil
}
