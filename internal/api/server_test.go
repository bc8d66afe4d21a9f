package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/simulation"
	"github.com/kalambet/fcsentinel/internal/storage"
	"github.com/kalambet/fcsentinel/internal/worker"
)

const testToken = "test-token-12345"

type fakeRunner struct {
	rows []pipeline.Row
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, emit func(pipeline.Row)) (pipeline.Result, error) {
	res := pipeline.Result{CycleID: "cycle-1"}
	for _, row := range f.rows {
		res.Rows = append(res.Rows, row)
		if emit != nil {
			emit(row)
		}
	}
	return res, f.err
}

type storeQueue struct {
	store *storage.Store
}

func (q storeQueue) EnqueueCycle(ctx context.Context) (string, error) {
	return q.store.EnqueueJob(ctx, storage.Job{Type: worker.JobEvaluateCycle})
}

func setupHandler(t *testing.T, runner CycleRunner) (http.Handler, *storage.Store, *simulation.Set) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if runner == nil {
		runner = &fakeRunner{}
	}
	set := simulation.NewSet(nil)
	h := NewHandler(Deps{
		Store:      store,
		Cycles:     runner,
		Queue:      storeQueue{store: store},
		Simulation: set,
		Token:      testToken,
		Metrics:    promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
	})
	return h, store, set
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func seedFC(t *testing.T, store *storage.Store, id, name, city string) {
	t.Helper()
	if err := store.UpsertFC(context.Background(), storage.FulfillmentCenter{
		ID: id, Name: name, City: city, Latitude: 40.7, Longitude: -74.0, CostMultiplier: 1,
	}); err != nil {
		t.Fatalf("UpsertFC: %v", err)
	}
}

func TestHealth(t *testing.T) {
	h, _, _ := setupHandler(t, nil)
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestMetricsIsOpen(t *testing.T) {
	h, _, _ := setupHandler(t, nil)
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuth(t *testing.T) {
	h, _, _ := setupHandler(t, nil)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, authReq(http.MethodGet, "/v1/fcs", "", tt.token))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestBearerAuth_EmptyTokenRejectsAll(t *testing.T) {
	h := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rr := serve(h, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestUpsertFC_ThenList(t *testing.T) {
	h, _, _ := setupHandler(t, nil)

	body := `{"fc_id":"NYC-1","name":"New York FC","city":"New York","latitude":40.71,"longitude":-74.0,"cost_multiplier":1.2}`
	rr := serve(h, authReq(http.MethodPost, "/v1/fcs", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST status = %d, want %d; body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}

	rr = serve(h, authReq(http.MethodGet, "/v1/fcs", "", testToken))
	var resp struct {
		Data []pipeline.Row `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("rows = %d, want 1", len(resp.Data))
	}
	row := resp.Data[0]
	if row.FCID != "NYC-1" || row.Outcome != outcomePending {
		t.Errorf("row = %+v, want NYC-1 pending", row)
	}
	if row.ReasoningLink != "/v1/fcs/NYC-1/reasoning" {
		t.Errorf("reasoning link = %q", row.ReasoningLink)
	}
}

func TestUpsertFC_Validation(t *testing.T) {
	h, _, _ := setupHandler(t, nil)
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing name", `{"fc_id":"X","city":"Denver"}`},
		{"missing id", `{"name":"X","city":"Denver"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, authReq(http.MethodPost, "/v1/fcs", tt.body, testToken))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestListFCs_SortedByRisk(t *testing.T) {
	h, store, _ := setupHandler(t, nil)
	ctx := context.Background()
	seedFC(t, store, "A", "Alpha", "New York")
	seedFC(t, store, "B", "Beta", "Boston")
	now := time.Now().UTC()
	store.UpdateFCRisk(ctx, "A", 20, "Low Risk", "No re-routing needed", "calm", now)
	store.UpdateFCRisk(ctx, "B", 80, "High Risk", "No active emergency shipments found", "storm", now)

	rr := serve(h, authReq(http.MethodGet, "/v1/fcs", "", testToken))
	var resp struct {
		Data []pipeline.Row `json:"data"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Data) != 2 {
		t.Fatalf("rows = %d, want 2", len(resp.Data))
	}
	if resp.Data[0].FCID != "B" || resp.Data[0].Outcome != pipeline.OutcomeOK {
		t.Errorf("first row = %+v, want B evaluated", resp.Data[0])
	}
}

func TestListFCs_FailedEvaluationShowsErrorRow(t *testing.T) {
	h, store, _ := setupHandler(t, nil)
	ctx := context.Background()
	seedFC(t, store, "A", "Alpha", "New York")
	now := time.Now().UTC()
	store.UpdateFCRisk(ctx, "A", 85, "High Risk", "Re-routing options available", "storm", now)
	if err := store.MarkFCFailed(ctx, "A", pipeline.OutcomeError, "planning: database is locked", now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkFCFailed: %v", err)
	}

	rr := serve(h, authReq(http.MethodGet, "/v1/fcs", "", testToken))
	var resp struct {
		Data []pipeline.Row `json:"data"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Data) != 1 {
		t.Fatalf("rows = %d, want 1", len(resp.Data))
	}
	row := resp.Data[0]
	if row.Outcome != pipeline.OutcomeError || row.Summary != pipeline.OutcomeError || row.Error != "planning: database is locked" {
		t.Errorf("row = %+v, want the stored failure", row)
	}
	if row.Status != "" {
		t.Errorf("Status = %q, want empty for a failed evaluation", row.Status)
	}
}

func TestGetFC_WithVerdictAndPlan(t *testing.T) {
	h, store, _ := setupHandler(t, nil)
	ctx := context.Background()
	seedFC(t, store, "A", "Alpha", "New York")

	rr := serve(h, authReq(http.MethodGet, "/v1/fcs/A", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var before map[string]json.RawMessage
	json.NewDecoder(rr.Body).Decode(&before)
	if string(before["verdict"]) != "null" || string(before["plan"]) != "null" {
		t.Errorf("unevaluated FC should have null verdict and plan, got %s / %s", before["verdict"], before["plan"])
	}

	now := time.Now().UTC()
	if err := store.SaveVerdict(ctx, storage.VerdictRecord{
		FCID: "A", Score: 85, Status: "High Risk", Reasoning: "hurricane landfall",
		ClassificationsJSON: `[{"sku":"B07CZQ56VA","emergency":true,"reason":"medical"}]`, EvaluatedAt: now,
	}); err != nil {
		t.Fatalf("SaveVerdict: %v", err)
	}
	if err := store.SavePlan(ctx, storage.PlanRecord{
		FCID: "A", Summary: "Re-routing options available", DecisionsJSON: `[{"sku":"B07CZQ56VA","outcome":"Re-route"}]`, EvaluatedAt: now,
	}); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	rr = serve(h, authReq(http.MethodGet, "/v1/fcs/A/reasoning", "", testToken))
	var v verdictView
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode reasoning: %v", err)
	}
	if v.Status != "High Risk" || v.Reasoning != "hurricane landfall" {
		t.Errorf("verdict = %+v", v)
	}

	rr = serve(h, authReq(http.MethodGet, "/v1/fcs/A/plan", "", testToken))
	var p struct {
		Summary   string           `json:"contingency_summary"`
		Decisions []map[string]any `json:"decisions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&p); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if p.Summary != "Re-routing options available" || len(p.Decisions) != 1 {
		t.Errorf("plan = %+v", p)
	}
}

func TestGetFC_NotFound(t *testing.T) {
	h, store, _ := setupHandler(t, nil)
	seedFC(t, store, "A", "Alpha", "New York")

	for _, path := range []string{"/v1/fcs/missing", "/v1/fcs/missing/history", "/v1/fcs/A/reasoning", "/v1/fcs/A/plan"} {
		rr := serve(h, authReq(http.MethodGet, path, "", testToken))
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, rr.Code, http.StatusNotFound)
		}
	}
}

func TestInventory(t *testing.T) {
	h, store, _ := setupHandler(t, nil)
	seedFC(t, store, "A", "Alpha", "New York")

	rr := serve(h, authReq(http.MethodPost, "/v1/inventory",
		`{"fc_id":"A","sku":"B07CZQ56VA","category":"Medical Supplies","quantity":12,"emergency":true}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST status = %d; body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(h, authReq(http.MethodPost, "/v1/inventory", `{"fc_id":"A","sku":"X","quantity":-1}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative quantity status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	rr = serve(h, authReq(http.MethodPost, "/v1/inventory", `{"fc_id":"nowhere","sku":"X","quantity":1}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown FC status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = serve(h, authReq(http.MethodGet, "/v1/fcs/A/inventory", "", testToken))
	var resp struct {
		Data []storage.InventoryRecord `json:"data"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Data) != 1 || resp.Data[0].Quantity != 12 || !resp.Data[0].Emergency {
		t.Errorf("inventory = %+v", resp.Data)
	}

	rr = serve(h, authReq(http.MethodGet, "/v1/fcs/A/inventory?limit=zero", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestShipments(t *testing.T) {
	h, store, _ := setupHandler(t, nil)
	seedFC(t, store, "A", "Alpha", "New York")

	rr := serve(h, authReq(http.MethodPost, "/v1/shipments",
		`{"shipment_id":"S1","sku":"B07CZQ56VA","quantity":50,"source_fc_id":"A","destination_lat":40.8,"destination_lon":-74.1,"base_cost":100,"base_lead_time_days":3}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rr.Code, rr.Body.String())
	}
	active, err := store.ActiveShipments(context.Background(), "A", "B07CZQ56VA")
	if err != nil {
		t.Fatalf("ActiveShipments: %v", err)
	}
	if len(active) != 1 || active[0].Status != storage.ShipmentPending {
		t.Errorf("active = %+v, want one pending shipment", active)
	}

	rr = serve(h, authReq(http.MethodPost, "/v1/shipments",
		`{"shipment_id":"S2","sku":"X","quantity":1,"source_fc_id":"A","destination_lat":40.8}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("half coordinates status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	rr = serve(h, authReq(http.MethodPost, "/v1/shipments",
		`{"shipment_id":"S3","sku":"X","quantity":0,"source_fc_id":"A"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("zero quantity status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAddEvidence(t *testing.T) {
	h, store, _ := setupHandler(t, nil)

	rr := serve(h, authReq(http.MethodPost, "/v1/evidence",
		`{"category":"weather","location":"Boston","title":"Blizzard","signal":"-5"}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body=%s", rr.Code, rr.Body.String())
	}
	var saved storage.EvidenceRecord
	json.NewDecoder(rr.Body).Decode(&saved)
	if saved.ID == "" {
		t.Error("saved record should carry an id")
	}

	got, err := store.RecentEvidence(context.Background(), storage.CategoryWeather, "boston", time.Now().Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("RecentEvidence: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Blizzard" {
		t.Errorf("stored = %+v", got)
	}

	for _, body := range []string{
		`{"category":"gossip","location":"Boston","title":"x"}`,
		`{"category":"news","title":"x"}`,
		`{"category":"news","location":"Boston"}`,
	} {
		rr := serve(h, authReq(http.MethodPost, "/v1/evidence", body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestCycles_EnqueueAndStatus(t *testing.T) {
	h, store, _ := setupHandler(t, nil)

	rr := serve(h, authReq(http.MethodPost, "/v1/cycles", "", testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	var queued map[string]string
	json.NewDecoder(rr.Body).Decode(&queued)
	if queued["job_id"] == "" {
		t.Fatal("missing job_id")
	}

	rr = serve(h, authReq(http.MethodGet, "/v1/cycles/"+queued["job_id"], "", testToken))
	var job cycleJobView
	json.NewDecoder(rr.Body).Decode(&job)
	if job.Status != storage.JobPending {
		t.Errorf("status = %q, want %q", job.Status, storage.JobPending)
	}

	purgeID, _ := store.EnqueueJob(context.Background(), storage.Job{Type: worker.JobPurgeEvidence})
	for _, id := range []string{"missing", purgeID} {
		rr = serve(h, authReq(http.MethodGet, "/v1/cycles/"+id, "", testToken))
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET /v1/cycles/%s status = %d, want %d", id, rr.Code, http.StatusNotFound)
		}
	}
}

func TestRunCycle_StreamsRows(t *testing.T) {
	runner := &fakeRunner{rows: []pipeline.Row{
		{FCID: "A", Summary: "No re-routing needed", Outcome: pipeline.OutcomeOK},
		{FCID: "B", Summary: pipeline.OutcomeError, Outcome: pipeline.OutcomeError, Error: "boom"},
	}}
	h, _, _ := setupHandler(t, runner)

	rr := serve(h, authReq(http.MethodPost, "/v1/cycles/run", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got []pipeline.Row
	sc := bufio.NewScanner(rr.Body)
	for sc.Scan() {
		var row pipeline.Row
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		got = append(got, row)
	}
	if len(got) != 2 || got[0].FCID != "A" || got[1].Outcome != pipeline.OutcomeError {
		t.Errorf("rows = %+v", got)
	}
	if !rr.Flushed {
		t.Error("rows should be flushed as they arrive")
	}
}

func TestRunCycle_FailsBeforeFirstRow(t *testing.T) {
	h, _, _ := setupHandler(t, &fakeRunner{err: errors.New("listing fulfillment centers: disk I/O error")})
	rr := serve(h, authReq(http.MethodPost, "/v1/cycles/run", "", testToken))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestRunCycle_NoFCs(t *testing.T) {
	h, _, _ := setupHandler(t, nil)
	rr := serve(h, authReq(http.MethodPost, "/v1/cycles/run", "", testToken))
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Errorf("status = %d body = %q, want empty 200", rr.Code, rr.Body.String())
	}
}

func TestSimulation(t *testing.T) {
	h, _, set := setupHandler(t, nil)

	rr := serve(h, authReq(http.MethodPut, "/v1/simulation", `{"scenarios":["labor strike in chicago"]}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d; body=%s", rr.Code, rr.Body.String())
	}
	if active := set.Active(); len(active) != 1 || active[0] != simulation.LaborStrikeChicago {
		t.Errorf("active = %v", active)
	}

	rr = serve(h, authReq(http.MethodPut, "/v1/simulation", `{"scenarios":["Alien Invasion"]}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown scenario status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if len(set.Active()) != 1 {
		t.Error("a rejected PUT must leave the active set unchanged")
	}

	rr = serve(h, authReq(http.MethodGet, "/v1/simulation", "", testToken))
	var view simulationView
	json.NewDecoder(rr.Body).Decode(&view)
	if len(view.Available) != len(simulation.Scenarios()) || len(view.Active) != 1 {
		t.Errorf("view = %+v", view)
	}

	rr = serve(h, authReq(http.MethodDelete, "/v1/simulation", "", testToken))
	if rr.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if len(set.Active()) != 0 {
		t.Errorf("active after clear = %v", set.Active())
	}
}
