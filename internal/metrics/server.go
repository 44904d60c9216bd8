// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package metrics

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/security"
)

const (
	// EnvToken names the optional bearer token guarding the endpoint.
	EnvToken = "METRICS_TOKEN"

	// EnvPort overrides the listen port.
	EnvPort = "METRICS_PORT"

	// DefaultAddr is where the scrape endpoint binds.
	DefaultAddr = ":8000"
)

// Handler serves the registry's exposition on GET. When METRICS_TOKEN is
// set, requests must carry it as a bearer token; the token resolves per
// request so rotation needs no restart.
func Handler(reg *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token := security.GetOr(EnvToken, nil); !token.Empty() {
			if r.Header.Get("Authorization") != "Bearer "+string(token.Bytes()) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		body := reg.Render()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	})
}

// Serve runs the scrape endpoint until ctx is done, then shuts it down
// gracefully. Only /metrics is routed; everything else is a 404.
func Serve(ctx context.Context, addr string, reg *Registry) error {
	if addr == "" {
		addr = DefaultAddr
	}
	if p := os.Getenv(EnvPort); p != "" {
		addr = ":" + p
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.Infof("metrics endpoint listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
