package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"fleetctl/internal/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "expose /metrics, /healthz, and a read-only /events feed over HTTP",
	Long: `serve mounts a read-only HTTP surface in front of the same store and
event writer every other subcommand uses: Prometheus metrics at /metrics,
a liveness probe at /healthz, and the most recent stigmergy events at
/events. It blocks until an INT or TERM signal arrives.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serveAddr
		if addr == "" {
			addr = rt.Config.Server.Addr
		}

		srv := &http.Server{
			Addr:        addr,
			Handler:     newServeRouter(),
			ReadTimeout: time.Duration(rt.Config.Server.ReadTimeoutSec) * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logging.Server("serve: listening on %s", addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			logging.Server("serve: shutdown signal received")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.ServerWarn("serve: graceful shutdown failed: %v", err)
			return err
		}
		return nil
	},
}

func newServeRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handleHealthz)
	r.Get("/events", handleEvents)

	return r
}

func handleHealthz(w http.ResponseWriter, req *http.Request) {
	if err := rt.Store.DB().PingContext(req.Context()); err != nil {
		logging.ServerError("healthz: store ping failed: %v", err)
		writeServeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "down",
			"reason": err.Error(),
		})
		return
	}
	writeServeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"generation": rt.Config.Generation,
	})
}

func handleEvents(w http.ResponseWriter, req *http.Request) {
	limit := rt.Config.Server.EventsLimit
	if limit <= 0 {
		limit = 100
	}
	prefix := req.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = rt.Config.Store.Namespace
	}

	rows, err := rt.Store.EventsByTypePrefix(prefix, limit)
	if err != nil {
		logging.ServerError("events: query failed: %v", err)
		writeServeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	writeServeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(rows),
		"prefix": prefix,
		"events": rows,
	})
}

func writeServeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to the configured server.addr)")
}
