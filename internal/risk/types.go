// Package risk holds the typed risk verdict and the parser that turns free
// text oracle replies into it.
package risk

// Status is the closed set of risk levels.
type Status string

const (
	LowRisk    Status = "Low Risk"
	MediumRisk Status = "Medium Risk"
	HighRisk   Status = "High Risk"
)

// Valid reports whether s is one of the three known levels.
func (s Status) Valid() bool {
	switch s {
	case LowRisk, MediumRisk, HighRisk:
		return true
	}
	return false
}

// Parser field names recorded in Verdict.Defaults.
const (
	FieldScore           = "score"
	FieldStatus          = "status"
	FieldReasoning       = "reasoning"
	FieldClassifications = "classifications"
)

const (
	DefaultScore     = 50.0
	DefaultStatus    = LowRisk
	NoReasoningGiven = "(no reasoning provided)"
)

// Classification is the oracle's emergency call for one SKU.
type Classification struct {
	SKU       string `json:"sku"`
	Emergency bool   `json:"emergency"`
	Reason    string `json:"reason"`
}

// Verdict is the parsed risk assessment for one FC.
type Verdict struct {
	Score           float64          `json:"score"`
	Status          Status           `json:"status"`
	Reasoning       string           `json:"reasoning"`
	Classifications []Classification `json:"classifications"`

	// RawStatus is the status text as the oracle wrote it, before
	// normalization. Empty when the reply had no status line.
	RawStatus string `json:"raw_status,omitempty"`
	// Defaults lists the fields that fell back to their default value.
	Defaults []string `json:"defaults,omitempty"`
}

// Default is the verdict used when no oracle reply is available.
func Default(reason string) Verdict {
	if reason == "" {
		reason = NoReasoningGiven
	}
	return Verdict{
		Score:           DefaultScore,
		Status:          DefaultStatus,
		Reasoning:       reason,
		Classifications: []Classification{},
		Defaults:        []string{FieldScore, FieldStatus, FieldReasoning, FieldClassifications},
	}
}

// Defaulted reports whether field fell back to its default.
func (v Verdict) Defaulted(field string) bool {
	for _, f := range v.Defaults {
		if f == field {
			return true
		}
	}
	return false
}

// StatusUnrecognized is true when the reply named a status outside the
// closed set and it was coerced to the default.
func (v Verdict) StatusUnrecognized() bool {
	return v.RawStatus != "" && v.Defaulted(FieldStatus)
}

// EmergencySKUs returns the SKUs classified as emergency, in reply order,
// without duplicates.
func (v Verdict) EmergencySKUs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range v.Classifications {
		if !c.Emergency || seen[c.SKU] {
			continue
		}
		seen[c.SKU] = true
		out = append(out, c.SKU)
	}
	return out
}
