// Package api serves the dashboard-facing HTTP API and the MCP tools.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/simulation"
	"github.com/kalambet/fcsentinel/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// CycleRunner runs an evaluation cycle inline.
type CycleRunner interface {
	Run(ctx context.Context, emit func(pipeline.Row)) (pipeline.Result, error)
}

// CycleQueue hands a cycle to the background worker.
type CycleQueue interface {
	EnqueueCycle(ctx context.Context) (string, error)
}

type Deps struct {
	Store      *storage.Store
	Cycles     CycleRunner
	Queue      CycleQueue
	Simulation *simulation.Set
	Token      string
	// Metrics is served on /metrics. Nil uses the default Prometheus registry.
	Metrics http.Handler
}

// NewHandler returns the HTTP API. /health and /metrics are open, every
// /v1 route requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Handle("/metrics", deps.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/fcs", handleListFCs(deps))
		r.Post("/fcs", handleUpsertFC(deps))
		r.Get("/fcs/{id}", handleGetFC(deps))
		r.Get("/fcs/{id}/reasoning", handleReasoning(deps))
		r.Get("/fcs/{id}/plan", handlePlan(deps))
		r.Get("/fcs/{id}/inventory", handleInventory(deps))
		r.Get("/fcs/{id}/history", handleHistory(deps))

		r.Post("/inventory", handleUpsertInventory(deps))
		r.Post("/shipments", handleUpsertShipment(deps))
		r.Post("/evidence", handleAddEvidence(deps))

		r.Post("/cycles", handleEnqueueCycle(deps))
		r.Post("/cycles/run", handleRunCycle(deps))
		r.Get("/cycles/{id}", handleGetCycle(deps))

		r.Get("/simulation", handleGetSimulation(deps))
		r.Put("/simulation", handleSetSimulation(deps))
		r.Delete("/simulation", handleClearSimulation(deps))
	})

	return r
}

// BearerAuth rejects requests whose Authorization header does not carry
// token. An empty token rejects everything.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			auth := r.Header.Get("Authorization")
			if token == "" || !strings.HasPrefix(auth, prefix) ||
				subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="fcsentinel"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// queryLimit reads ?limit=, falling back to def and capping at max.
func queryLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
