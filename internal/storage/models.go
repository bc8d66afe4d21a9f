package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalid wraps validation failures on writes.
var ErrInvalid = errors.New("invalid record")

// Shipment statuses. Delivered is the only terminal one.
const (
	ShipmentPending        = "Pending"
	ShipmentInTransit      = "In Transit"
	ShipmentOutForDelivery = "Out for Delivery"
	ShipmentDelivered      = "Delivered"
)

// ValidShipmentStatus reports whether s is one of the known shipment statuses.
func ValidShipmentStatus(s string) bool {
	switch s {
	case ShipmentPending, ShipmentInTransit, ShipmentOutForDelivery, ShipmentDelivered:
		return true
	}
	return false
}

// FulfillmentCenter is the reference record for an FC. Only the risk fields
// (RiskScore through LastEvaluatedAt) are written by the evaluation cycle.
type FulfillmentCenter struct {
	ID                 string    `json:"fc_id"`
	Name               string    `json:"name"`
	City               string    `json:"city"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	CostMultiplier     float64   `json:"cost_multiplier"`
	LeadTimeAdderDays  int       `json:"lead_time_adder_days"`
	RiskScore          float64   `json:"current_risk_score"`
	RiskStatus         string    `json:"risk_status"`
	ContingencySummary string    `json:"contingency_summary"`
	Reasoning          string    `json:"reasoning,omitempty"`
	LastEvaluatedAt    time.Time `json:"last_evaluated_at"`
	// LastError is set when the latest evaluation of the FC failed.
	LastError          string    `json:"last_error,omitempty"`
}

type InventoryRecord struct {
	FCID        string    `json:"fc_id"`
	SKU         string    `json:"sku"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Quantity    int       `json:"quantity"`
	Emergency   bool      `json:"emergency"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Shipment is an order leaving SourceFCID. DestLat/DestLon are nil when the
// destination was never geocoded.
type Shipment struct {
	ID               string   `json:"shipment_id"`
	SKU              string   `json:"sku"`
	Quantity         int      `json:"quantity"`
	Status           string   `json:"status"`
	SourceFCID       string   `json:"source_fc_id"`
	DestLat          *float64 `json:"destination_lat,omitempty"`
	DestLon          *float64 `json:"destination_lon,omitempty"`
	BaseCost         float64  `json:"base_cost"`
	BaseLeadTimeDays int      `json:"base_lead_time_days"`
}

// EvidenceRecord is one time-series signal about a city. Signal carries the
// category-specific qualifier: temperature, sentiment, impact, severity or
// disruption level.
type EvidenceRecord struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Location  string    `json:"location"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail"`
	Source    string    `json:"source"`
	Signal    string    `json:"signal"`
	Timestamp time.Time `json:"timestamp"`
	DedupKey  string    `json:"dedup_key,omitempty"`
}

type VerdictRecord struct {
	FCID                string
	Score               float64
	Status              string
	Reasoning           string
	ClassificationsJSON string // JSON array stored as text
	Prompt              string
	RawReply            string
	OracleError         string
	EvaluatedAt         time.Time
}

type PlanRecord struct {
	FCID          string
	Summary       string
	Gated         bool
	DecisionsJSON string // JSON array stored as text
	EvaluatedAt   time.Time
}

type RiskSnapshot struct {
	ID          int64     `json:"id"`
	FCID        string    `json:"fc_id"`
	CycleID     string    `json:"cycle_id"`
	Score       float64   `json:"score"`
	Status      string    `json:"status"`
	Summary     string    `json:"summary"`
	Error       string    `json:"error,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
