package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/storage"
)

// outcomePending marks an FC that no cycle has evaluated yet.
const outcomePending = "pending"

type verdictView struct {
	FCID            string          `json:"fc_id"`
	RiskScore       float64         `json:"risk_score"`
	Status          string          `json:"status"`
	Reasoning       string          `json:"reasoning"`
	Classifications json.RawMessage `json:"classifications"`
	OracleError     string          `json:"oracle_error,omitempty"`
	RawReply        string          `json:"raw_reply,omitempty"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
}

type planView struct {
	FCID        string          `json:"fc_id"`
	Summary     string          `json:"contingency_summary"`
	Gated       bool            `json:"gated"`
	Decisions   json.RawMessage `json:"decisions"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
}

func newVerdictView(v storage.VerdictRecord) verdictView {
	return verdictView{
		FCID:            v.FCID,
		RiskScore:       v.Score,
		Status:          v.Status,
		Reasoning:       v.Reasoning,
		Classifications: rawArray(v.ClassificationsJSON),
		OracleError:     v.OracleError,
		RawReply:        v.RawReply,
		EvaluatedAt:     v.EvaluatedAt,
	}
}

func newPlanView(p storage.PlanRecord) planView {
	return planView{
		FCID:        p.FCID,
		Summary:     p.Summary,
		Gated:       p.Gated,
		Decisions:   rawArray(p.DecisionsJSON),
		EvaluatedAt: p.EvaluatedAt,
	}
}

func rawArray(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("[]")
	}
	return json.RawMessage(s)
}

// latestRows renders the stored risk fields of every FC as dashboard rows.
func latestRows(ctx context.Context, store *storage.Store) ([]pipeline.Row, error) {
	fcs, err := store.ListFCs(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]pipeline.Row, 0, len(fcs))
	for _, fc := range fcs {
		outcome := pipeline.OutcomeOK
		switch {
		case fc.LastEvaluatedAt.IsZero():
			outcome = outcomePending
		case fc.LastError != "":
			outcome = pipeline.OutcomeError
		}
		rows = append(rows, pipeline.Row{
			FCID:          fc.ID,
			FCName:        fc.Name,
			City:          fc.City,
			RiskScore:     fc.RiskScore,
			Status:        fc.RiskStatus,
			Summary:       fc.ContingencySummary,
			Outcome:       outcome,
			Error:         fc.LastError,
			EvaluatedAt:   fc.LastEvaluatedAt,
			ReasoningLink: pipeline.ReasoningLink(fc.ID),
			PlanLink:      pipeline.PlanLink(fc.ID),
		})
	}
	pipeline.SortRows(rows)
	return rows, nil
}

func handleListFCs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := latestRows(r.Context(), deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list fulfillment centers: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": rows})
	}
}

// loadFC writes a 404 and returns false when the FC is unknown.
func loadFC(w http.ResponseWriter, r *http.Request, store *storage.Store) (storage.FulfillmentCenter, bool) {
	id := chi.URLParam(r, "id")
	fc, err := store.GetFC(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "fulfillment center %q not found", id)
		return fc, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get fulfillment center: %v", err)
		return fc, false
	}
	return fc, true
}

func handleGetFC(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fc, ok := loadFC(w, r, deps.Store)
		if !ok {
			return
		}
		resp := map[string]any{"fc": fc, "verdict": nil, "plan": nil}

		v, err := deps.Store.GetVerdict(r.Context(), fc.ID)
		switch {
		case err == nil:
			resp["verdict"] = newVerdictView(v)
		case !errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get verdict: %v", err)
			return
		}
		p, err := deps.Store.GetPlan(r.Context(), fc.ID)
		switch {
		case err == nil:
			resp["plan"] = newPlanView(p)
		case !errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get plan: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleReasoning(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fc, ok := loadFC(w, r, deps.Store)
		if !ok {
			return
		}
		v, err := deps.Store.GetVerdict(r.Context(), fc.ID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "%s has not been evaluated yet", fc.ID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get verdict: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newVerdictView(v))
	}
}

func handlePlan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fc, ok := loadFC(w, r, deps.Store)
		if !ok {
			return
		}
		p, err := deps.Store.GetPlan(r.Context(), fc.ID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "%s has not been evaluated yet", fc.ID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get plan: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newPlanView(p))
	}
}

func handleInventory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r, 100, 1000)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		fc, ok := loadFC(w, r, deps.Store)
		if !ok {
			return
		}
		items, err := deps.Store.ListInventory(r.Context(), fc.ID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list inventory: %v", err)
			return
		}
		if items == nil {
			items = []storage.InventoryRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": items})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r, 50, 500)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		fc, ok := loadFC(w, r, deps.Store)
		if !ok {
			return
		}
		snaps, err := deps.Store.ListSnapshots(r.Context(), fc.ID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		if snaps == nil {
			snaps = []storage.RiskSnapshot{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": snaps})
	}
}

// writeStoreError maps validation failures to 400 and everything else to 500.
func writeStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, storage.ErrInvalid) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "failed to save %s: %v", what, err)
}

func handleUpsertFC(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fc storage.FulfillmentCenter
		if !decodeBody(w, r, &fc) {
			return
		}
		if fc.Name == "" || fc.City == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and city are required")
			return
		}
		if err := deps.Store.UpsertFC(r.Context(), fc); err != nil {
			writeStoreError(w, "fulfillment center", err)
			return
		}
		saved, err := deps.Store.GetFC(r.Context(), fc.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reload fulfillment center: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleUpsertInventory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rec storage.InventoryRecord
		if !decodeBody(w, r, &rec) {
			return
		}
		if !fcExists(w, r, deps.Store, rec.FCID) {
			return
		}
		if err := deps.Store.UpsertInventory(r.Context(), rec); err != nil {
			writeStoreError(w, "inventory", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"fc_id": rec.FCID, "sku": rec.SKU})
	}
}

func handleUpsertShipment(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sh storage.Shipment
		if !decodeBody(w, r, &sh) {
			return
		}
		if sh.Status == "" {
			sh.Status = storage.ShipmentPending
		}
		if (sh.DestLat == nil) != (sh.DestLon == nil) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "destination_lat and destination_lon must be set together")
			return
		}
		if !fcExists(w, r, deps.Store, sh.SourceFCID) {
			return
		}
		if err := deps.Store.UpsertShipment(r.Context(), sh); err != nil {
			writeStoreError(w, "shipment", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"shipment_id": sh.ID})
	}
}

// fcExists writes a 400 when id is set but names no known FC. Empty ids
// are left to the store's own validation.
func fcExists(w http.ResponseWriter, r *http.Request, store *storage.Store, id string) bool {
	if id == "" {
		return true
	}
	_, err := store.GetFC(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown fulfillment center %q", id)
		return false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get fulfillment center: %v", err)
		return false
	}
	return true
}

func handleAddEvidence(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rec storage.EvidenceRecord
		if !decodeBody(w, r, &rec) {
			return
		}
		if rec.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		rec.ID = ""
		saved, err := deps.Store.UpsertEvidence(r.Context(), rec)
		if err != nil {
			writeStoreError(w, fmt.Sprintf("%s evidence", rec.Category), err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}
