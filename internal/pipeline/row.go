package pipeline

import (
	"net/url"
	"sort"
	"time"
)

// Row outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "Error processing data"
)

// Row is the per-FC line handed to the presentation layer as soon as the FC
// finishes evaluating.
type Row struct {
	CycleID       string    `json:"cycle_id"`
	FCID          string    `json:"fc_id"`
	FCName        string    `json:"fc_name"`
	City          string    `json:"city"`
	RiskScore     float64   `json:"risk_score"`
	Status        string    `json:"status"`
	Summary       string    `json:"contingency_summary"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
	ReasoningLink string    `json:"reasoning_link"`
	PlanLink      string    `json:"plan_link"`
}

// Result is a finished (or cancelled) cycle.
type Result struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Rows       []Row     `json:"rows"`
	Evaluated  int       `json:"evaluated"`
	Failed     int       `json:"failed"`
	// Skipped counts FCs never started because the cycle was cancelled.
	Skipped int `json:"skipped"`
}

func ReasoningLink(fcID string) string { return "/v1/fcs/" + url.PathEscape(fcID) + "/reasoning" }
func PlanLink(fcID string) string      { return "/v1/fcs/" + url.PathEscape(fcID) + "/plan" }

// SortRows orders rows the way the dashboard shows them: highest risk
// first, then by FC id.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RiskScore != rows[j].RiskScore {
			return rows[i].RiskScore > rows[j].RiskScore
		}
		return rows[i].FCID < rows[j].FCID
	})
}
