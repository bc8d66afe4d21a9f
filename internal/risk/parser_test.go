package risk

import (
	"reflect"
	"strings"
	"testing"
)

func TestParse_WellFormed(t *testing.T) {
	raw := `Risk Score: 85
Status: High Risk
Reasoning: Hurricane warning for the region.
Port closures expected within 24 hours.
Emergency Classifications:
- SKU: SKU001, Emergency: True, Reason: Insulin, temperature sensitive
- SKU: SKU002, Emergency: False, Reason: Board game
`
	got := Parse(raw)

	if got.Score != 85 {
		t.Errorf("Score = %v, want 85", got.Score)
	}
	if got.Status != HighRisk {
		t.Errorf("Status = %q, want %q", got.Status, HighRisk)
	}
	wantReasoning := "Hurricane warning for the region.\nPort closures expected within 24 hours."
	if got.Reasoning != wantReasoning {
		t.Errorf("Reasoning = %q, want %q", got.Reasoning, wantReasoning)
	}
	want := []Classification{
		{SKU: "SKU001", Emergency: true, Reason: "Insulin, temperature sensitive"},
		{SKU: "SKU002", Emergency: false, Reason: "Board game"},
	}
	if !reflect.DeepEqual(got.Classifications, want) {
		t.Errorf("Classifications = %+v, want %+v", got.Classifications, want)
	}
	if len(got.Defaults) != 0 {
		t.Errorf("Defaults = %v, want none", got.Defaults)
	}
}

func TestParse_MarkdownAndFences(t *testing.T) {
	raw := "```\n**Risk Score:** 72/100\n**Status:** *medium risk*  \n## Reasoning: Labor strike ongoing.\n**Emergency Classifications:**\n* SKU: `MED-9`, Emergency: **True**, Reason: First aid kits\n```"
	got := Parse(raw)

	if got.Score != 72 {
		t.Errorf("Score = %v, want 72", got.Score)
	}
	if got.Status != MediumRisk {
		t.Errorf("Status = %q, want %q", got.Status, MediumRisk)
	}
	if got.Reasoning != "Labor strike ongoing." {
		t.Errorf("Reasoning = %q", got.Reasoning)
	}
	if len(got.Classifications) != 1 || got.Classifications[0].SKU != "MED-9" || !got.Classifications[0].Emergency {
		t.Errorf("Classifications = %+v", got.Classifications)
	}
}

func TestParse_ScoreRules(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
		def  bool
	}{
		{"plain", "Risk Score: 40", 40, false},
		{"decimal", "Risk Score: 62.5", 62.5, false},
		{"bracketed", "Risk Score: [90]", 90, false},
		{"above range", "Risk Score: 140", 100, false},
		{"negative", "Risk Score: -5", 0, false},
		{"non numeric", "Risk Score: high", 50, true},
		{"missing", "Status: Low Risk", 50, true},
		{"first wins", "Risk Score: 10\nRisk Score: 99", 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if got.Score != tt.want {
				t.Errorf("Score = %v, want %v", got.Score, tt.want)
			}
			if got.Defaulted(FieldScore) != tt.def {
				t.Errorf("Defaulted(score) = %v, want %v", got.Defaulted(FieldScore), tt.def)
			}
		})
	}
}

func TestParse_StatusNormalization(t *testing.T) {
	tests := []struct {
		raw          string
		want         Status
		unrecognized bool
	}{
		{"Status: HIGH", HighRisk, false},
		{"Status: high risk", HighRisk, false},
		{"Status: At Risk", MediumRisk, false},
		{"Status: __Low Risk__", LowRisk, false},
		{"Status: Unknown", LowRisk, true},
		{"Status: catastrophic meltdown", LowRisk, true},
	}
	for _, tt := range tests {
		got := Parse(tt.raw)
		if got.Status != tt.want {
			t.Errorf("Parse(%q).Status = %q, want %q", tt.raw, got.Status, tt.want)
		}
		if got.StatusUnrecognized() != tt.unrecognized {
			t.Errorf("Parse(%q).StatusUnrecognized() = %v, want %v", tt.raw, got.StatusUnrecognized(), tt.unrecognized)
		}
	}
}

func TestParse_MalformedClassificationsSkipped(t *testing.T) {
	raw := `Risk Score: 55
Status: Medium Risk
Reasoning: Mixed signals.
Emergency Classifications:
- SKU: A1, Emergency: True, Reason: Water
- this line is garbage
- SKU: , Emergency: True, Reason: no sku
- SKU: B2, Emergency: Maybe, Reason: unsure
- Emergency: False, SKU: C3, Reason: Toys
Reason: Batteries, SKU: D4, Emergency: yes
`
	got := Parse(raw)

	var skus []string
	for _, c := range got.Classifications {
		skus = append(skus, c.SKU)
	}
	want := []string{"A1", "C3", "D4"}
	if !reflect.DeepEqual(skus, want) {
		t.Errorf("SKUs = %v, want %v", skus, want)
	}
	if got.Classifications[2].Reason != "Batteries" {
		t.Errorf("D4 reason = %q, want Batteries", got.Classifications[2].Reason)
	}
	if !reflect.DeepEqual(got.EmergencySKUs(), []string{"A1", "D4"}) {
		t.Errorf("EmergencySKUs = %v, want [A1 D4]", got.EmergencySKUs())
	}
}

func TestParse_GarbageReturnsDefaults(t *testing.T) {
	for _, raw := range []string{"", "   ", "I cannot help with that.", "```json\n{\"score\": 3}\n```", strings.Repeat("*", 1000)} {
		got := Parse(raw)
		if got.Score != DefaultScore || got.Status != DefaultStatus {
			t.Errorf("Parse(%.20q) = %v/%q, want defaults", raw, got.Score, got.Status)
		}
		if got.Reasoning != NoReasoningGiven {
			t.Errorf("Parse(%.20q).Reasoning = %q, want %q", raw, got.Reasoning, NoReasoningGiven)
		}
		if got.Classifications == nil || len(got.Classifications) != 0 {
			t.Errorf("Parse(%.20q).Classifications = %#v, want empty slice", raw, got.Classifications)
		}
		for _, f := range []string{FieldScore, FieldStatus, FieldReasoning, FieldClassifications} {
			if !got.Defaulted(f) {
				t.Errorf("Parse(%.20q): field %s not marked as defaulted", raw, f)
			}
		}
	}
}

func TestParse_ReasoningStopsAtClassifications(t *testing.T) {
	raw := "Reasoning: line one\n\nline two\nEmergency Classifications: - SKU: Z9, Emergency: False, Reason: n/a"
	got := Parse(raw)
	if got.Reasoning != "line one\n\nline two" {
		t.Errorf("Reasoning = %q", got.Reasoning)
	}
	if len(got.Classifications) != 1 || got.Classifications[0].SKU != "Z9" {
		t.Errorf("Classifications = %+v", got.Classifications)
	}
}

func TestParse_FieldLikeLinesInsideReasoning(t *testing.T) {
	raw := `Risk Score: 70
Status: High Risk
Reasoning: line one
Status: of the port is closed
Risk Score: for the region is climbing
line three
Emergency Classifications:
- SKU: A1, Emergency: True, Reason: Water
`
	got := Parse(raw)
	want := "line one\nStatus: of the port is closed\nRisk Score: for the region is climbing\nline three"
	if got.Reasoning != want {
		t.Errorf("Reasoning = %q, want %q", got.Reasoning, want)
	}
	if got.Score != 70 || got.Status != HighRisk {
		t.Errorf("score/status = %v/%q, want 70/High Risk", got.Score, got.Status)
	}
}

func TestParse_EmergencyWithTrailingText(t *testing.T) {
	raw := `Emergency Classifications:
- SKU: A, Emergency: True (critical), Reason: Insulin
- SKU: B, Emergency: False, Reason: Toys
- SKU: C, Emergency: yes - life saving, Reason: EpiPen
`
	got := Parse(raw)
	if len(got.Classifications) != 3 {
		t.Fatalf("Classifications = %+v, want 3", got.Classifications)
	}
	if !reflect.DeepEqual(got.EmergencySKUs(), []string{"A", "C"}) {
		t.Errorf("EmergencySKUs = %v, want [A C]", got.EmergencySKUs())
	}
}

func TestDefault(t *testing.T) {
	v := Default("oracle unreachable: connection refused")
	if v.Score != 50 || v.Status != LowRisk {
		t.Errorf("Default = %v/%q, want 50/Low Risk", v.Score, v.Status)
	}
	if v.Reasoning != "oracle unreachable: connection refused" {
		t.Errorf("Reasoning = %q", v.Reasoning)
	}
	if len(v.EmergencySKUs()) != 0 {
		t.Errorf("EmergencySKUs = %v, want none", v.EmergencySKUs())
	}
	if v.StatusUnrecognized() {
		t.Error("default verdict must not count as an unrecognized status")
	}
}

func TestEmergencySKUs_Dedup(t *testing.T) {
	v := Verdict{Classifications: []Classification{
		{SKU: "B", Emergency: true},
		{SKU: "A", Emergency: false},
		{SKU: "B", Emergency: true},
		{SKU: "C", Emergency: true},
	}}
	if got := v.EmergencySKUs(); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("EmergencySKUs = %v, want [B C]", got)
	}
}
