package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/FulfillBox/internal/api/fulfillapi"
	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/reconcile"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type fulfillAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// runFulfillAPI serves the operator HTTP API and consumes provider
// tracking events, feeding them through the same match engine as file
// imports.
func runFulfillAPI(ctx context.Context, opts fulfillAPIOpts, api *fulfillapi.API, engine *reconcile.Engine, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()
	api.Routes(r)

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		_ = consumer.Consume(ctx, func(_key, value []byte) error {
			var m messages.TrackingEvent
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			res, err := engine.Resolve(ctx, trackingRecordFromEvent(m))
			if err != nil {
				return err
			}
			slog.Info("tracking event resolved",
				"tracker_id", m.TrackerID,
				"outcome", string(res.Outcome),
				"reason", res.Reason)
			return nil
		})
	}()

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func trackingRecordFromEvent(m messages.TrackingEvent) models.TrackingRecord {
	return models.TrackingRecord{
		TrackerID:      m.TrackerID,
		TrackingNumber: m.TrackingNumber,
		TrackingURL:    m.TrackingURL,
		Carrier:        m.Carrier,
		CustomerName:   m.CustomerName,
		DestinationZip: m.DestinationZip,
		OrderReference: m.OrderReference,
		Status:         m.Status,
		EventTime:      m.EventTime,
	}
}
