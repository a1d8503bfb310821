package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/services/autofulfill"
	"github.com/BearBump/FulfillBox/internal/services/retention"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	worker *autofulfill.Worker
	purger *retention.Purger
	cfg    *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.worker == nil {
			_, _ = w.Write([]byte(`{"error":"worker not wired"}`))
			return
		}
		out := map[string]any{"worker": opts.worker.Stats()}
		if opts.purger != nil {
			out["retention"] = opts.purger.Stats()
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Avoid dumping secrets; show only operational worker settings.
		out := map[string]any{
			"pollIntervalSeconds":        opts.cfg.FulfillBox.WorkerPollIntervalSeconds,
			"batchSize":                  opts.cfg.FulfillBox.WorkerBatchSize,
			"lockStalenessSeconds":       opts.cfg.FulfillBox.LockStalenessSeconds,
			"maxAutoItemCount":           opts.cfg.FulfillBox.MaxAutoItemCount,
			"maxAutoValueCents":          opts.cfg.FulfillBox.MaxAutoValueCents,
			"maxAutoOrderAgeDays":        opts.cfg.FulfillBox.MaxAutoOrderAgeDays,
			"addressRetentionDays":       opts.cfg.FulfillBox.AddressRetentionDays,
			"purgeCronSpec":              opts.cfg.FulfillBox.PurgeCronSpec,
			"providerRateLimitPerMinute": opts.cfg.FulfillBox.ProviderRateLimitPerMinute,
			"preferredCarrier":           opts.cfg.FulfillBox.PreferredCarrier,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.worker == nil {
			_, _ = w.Write([]byte(`{"error":"worker not wired"}`))
			return
		}
		opts.worker.Trigger()
		out := map[string]any{"triggered": true}
		if r.URL.Query().Get("purge") == "1" && opts.purger != nil {
			n, err := opts.purger.RunOnce(r.Context())
			if err != nil {
				out["purgeError"] = err.Error()
			} else {
				out["purged"] = n
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	// Serve swagger with no-cache + cachebuster (same trick as fulfill-api).
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
