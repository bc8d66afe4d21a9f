// Package planner decides whether an FC's emergency shipments should be
// re-routed and, if so, to which nearby FC.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/fcsentinel/internal/risk"
	"github.com/kalambet/fcsentinel/internal/storage"
)

// Outcome is the per-shipment result.
type Outcome string

const (
	OutcomeRerouted         Outcome = "Re-routed"
	OutcomeNoActiveShipment Outcome = "No Active Shipment"
	OutcomeNoOptimalRoute   Outcome = "No Optimal Route"
	OutcomeMissingDest      Outcome = "Missing Destination Data"
)

// Plan-level summaries.
const (
	SummaryRerouted    = "Re-routing options available"
	SummaryNoRoute     = "Re-routing evaluation: no optimal routes found"
	SummaryNoShipments = "No active emergency shipments found"
	SummaryNotNeeded   = "No re-routing needed"
)

// DefaultKeywords are the disruption words that let a Low Risk verdict with
// emergency SKUs through the gate.
var DefaultKeywords = []string{
	"disruption", "delay", "strike", "storm", "hurricane", "flood", "closure",
	"shortage", "outage", "shutdown", "tariff", "snow", "blizzard", "protest", "congestion",
}

// Store is the read-only view the planner needs.
type Store interface {
	ActiveShipments(ctx context.Context, sourceFCID, sku string) ([]storage.Shipment, error)
	InventoryQuantity(ctx context.Context, fcID, sku string) (int, error)
}

type Config struct {
	MaxDistanceMiles float64
	MinCoverage      float64 // percent
	// ScoreThreshold is the extra bar for verdicts whose status could not be
	// recognized and was coerced to Low Risk.
	ScoreThreshold float64
	Keywords       []string
}

func DefaultConfig() Config {
	return Config{MaxDistanceMiles: 150, MinCoverage: 90, ScoreThreshold: 30, Keywords: DefaultKeywords}
}

// Decision is the planner's call for one (shipment, SKU) pair. The routing
// fields are set only for OutcomeRerouted.
type Decision struct {
	SKU        string  `json:"sku"`
	ShipmentID string  `json:"shipment_id,omitempty"`
	Outcome    Outcome `json:"outcome"`

	DestinationFCID   string  `json:"destination_fc_id,omitempty"`
	DestinationFCName string  `json:"destination_fc_name,omitempty"`
	DistanceMiles     float64 `json:"distance_miles,omitempty"`
	CoveragePercent   float64 `json:"coverage_percent,omitempty"`
	// RefundPercent is the share of the order the destination cannot cover.
	RefundPercent        float64 `json:"refund_percent,omitempty"`
	AdjustedCost         float64 `json:"adjusted_cost,omitempty"`
	CostDelta            float64 `json:"cost_delta,omitempty"`
	AdjustedLeadTimeDays int     `json:"adjusted_lead_time_days,omitempty"`
	LeadTimeDeltaDays    int     `json:"lead_time_delta_days,omitempty"`
}

type Plan struct {
	Summary string `json:"summary"`
	// Gated is true when the verdict stopped at the gate and nothing was read.
	Gated     bool       `json:"gated"`
	Decisions []Decision `json:"decisions"`
}

type Planner struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Planner {
	def := DefaultConfig()
	if cfg.MaxDistanceMiles <= 0 {
		cfg.MaxDistanceMiles = def.MaxDistanceMiles
	}
	if cfg.MinCoverage <= 0 {
		cfg.MinCoverage = def.MinCoverage
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = def.ScoreThreshold
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = def.Keywords
	}
	return &Planner{store: store, cfg: cfg}
}

// ShouldPlan is the gate. It never touches the store. A Low Risk verdict
// without emergency SKUs never passes, whether or not its status was
// recognized.
func (p *Planner) ShouldPlan(v risk.Verdict) bool {
	switch v.Status {
	case risk.HighRisk, risk.MediumRisk:
		return true
	case risk.LowRisk:
		if len(v.EmergencySKUs()) == 0 || !p.mentionsDisruption(v.Reasoning) {
			return false
		}
		if v.StatusUnrecognized() {
			return v.Score >= p.cfg.ScoreThreshold
		}
		return true
	}
	return false
}

func (p *Planner) mentionsDisruption(text string) bool {
	text = strings.ToLower(text)
	for _, kw := range p.cfg.Keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Plan builds the contingency plan for fc. fcs is the full FC list of the
// cycle; candidates are drawn from it. An error means the FC could not be
// evaluated (a store read failed).
func (p *Planner) Plan(ctx context.Context, fc storage.FulfillmentCenter, v risk.Verdict, fcs []storage.FulfillmentCenter) (Plan, error) {
	if !p.ShouldPlan(v) {
		return Plan{Summary: SummaryNotNeeded, Gated: true, Decisions: []Decision{}}, nil
	}

	plan := Plan{Decisions: []Decision{}}
	var shipments, rerouted int
	for _, sku := range v.EmergencySKUs() {
		active, err := p.store.ActiveShipments(ctx, fc.ID, sku)
		if err != nil {
			return Plan{}, fmt.Errorf("loading shipments for %s/%s: %w", fc.ID, sku, err)
		}
		if len(active) == 0 {
			plan.Decisions = append(plan.Decisions, Decision{SKU: sku, Outcome: OutcomeNoActiveShipment})
			continue
		}
		for _, sh := range active {
			shipments++
			d, err := p.route(ctx, fc, sh, fcs)
			if err != nil {
				return Plan{}, err
			}
			if d.Outcome == OutcomeRerouted {
				rerouted++
			}
			plan.Decisions = append(plan.Decisions, d)
		}
	}

	switch {
	case rerouted > 0:
		plan.Summary = SummaryRerouted
	case shipments > 0:
		plan.Summary = SummaryNoRoute
	default:
		plan.Summary = SummaryNoShipments
	}
	return plan, nil
}

func (p *Planner) route(ctx context.Context, fc storage.FulfillmentCenter, sh storage.Shipment, fcs []storage.FulfillmentCenter) (Decision, error) {
	d := Decision{SKU: sh.SKU, ShipmentID: sh.ID}
	if sh.DestLat == nil || sh.DestLon == nil || !validCoord(*sh.DestLat, *sh.DestLon) {
		d.Outcome = OutcomeMissingDest
		return d, nil
	}

	for _, c := range p.candidates(fc, *sh.DestLat, *sh.DestLon, fcs) {
		avail, err := p.store.InventoryQuantity(ctx, c.fc.ID, sh.SKU)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return Decision{}, fmt.Errorf("reading inventory %s/%s: %w", c.fc.ID, sh.SKU, err)
		}
		cov := Coverage(avail, sh.Quantity)
		if cov < p.cfg.MinCoverage {
			continue
		}
		mult := max(c.fc.CostMultiplier, 1)
		adder := max(c.fc.LeadTimeAdderDays, 0)
		d.Outcome = OutcomeRerouted
		d.DestinationFCID = c.fc.ID
		d.DestinationFCName = c.fc.Name
		d.DistanceMiles = c.miles
		d.CoveragePercent = cov
		d.RefundPercent = 100 - cov
		d.AdjustedCost = sh.BaseCost * mult
		d.CostDelta = d.AdjustedCost - sh.BaseCost
		d.AdjustedLeadTimeDays = sh.BaseLeadTimeDays + adder
		d.LeadTimeDeltaDays = adder
		return d, nil
	}
	d.Outcome = OutcomeNoOptimalRoute
	return d, nil
}

type candidate struct {
	fc    storage.FulfillmentCenter
	miles float64
}

// candidates are the FCs other than origin within range of the destination,
// nearest first, ties broken by FC id.
func (p *Planner) candidates(origin storage.FulfillmentCenter, lat, lon float64, fcs []storage.FulfillmentCenter) []candidate {
	var out []candidate
	for _, f := range fcs {
		if f.ID == origin.ID || !validCoord(f.Latitude, f.Longitude) {
			continue
		}
		miles := HaversineMiles(lat, lon, f.Latitude, f.Longitude)
		if miles > p.cfg.MaxDistanceMiles {
			continue
		}
		out = append(out, candidate{fc: f, miles: miles})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].miles != out[j].miles {
			return out[i].miles < out[j].miles
		}
		return out[i].fc.ID < out[j].fc.ID
	})
	return out
}

// Coverage is the percentage of required that available satisfies, capped
// at 100. A non-positive requirement is fully covered.
func Coverage(available, required int) float64 {
	if required <= 0 {
		return 100
	}
	if available <= 0 {
		return 0
	}
	return min(100, float64(available)/float64(required)*100)
}
